package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(LoggingConfig{Level: "warn"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("Query teardown failed")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"Query teardown failed"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gopipe-cep.log")
	var buf bytes.Buffer
	logger, err := newLogger(LoggingConfig{
		Format: "console",
		File:   LumberjackConfig{Filename: path, MaxSizeMB: 1},
	}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("Endpoint started")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Endpoint started")
	assert.Contains(t, buf.String(), "Endpoint started")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := newLogger(LoggingConfig{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
	_, err = newLogger(LoggingConfig{Format: "xml"}, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
}
