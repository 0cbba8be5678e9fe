package message

import "go.uber.org/zap"

// Logger defines an interface for logging at different severity levels.
// *slog.Logger satisfies it directly.
type Logger interface {
	// Debug logs a message at debug level.
	Debug(msg string, args ...any)
	// Info logs a message at info level.
	Info(msg string, args ...any)
	// Warn logs a message at warning level.
	Warn(msg string, args ...any)
	// Error logs a message at error level.
	Error(msg string, args ...any)
}

// NewZapLogger adapts a zap logger to Logger.
// Args are interpreted as alternating keys and values.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLogger{s: l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }
