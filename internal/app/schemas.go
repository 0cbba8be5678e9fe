package app

import (
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/fxsml/gopipe-cep/message"
	"github.com/fxsml/gopipe-cep/message/jsonschema"
)

// loadSchemas compiles every configured schema file, reporting all
// failures.
func loadSchemas(schemas []SchemaConfig) (*jsonschema.Registry, error) {
	registry := jsonschema.NewRegistry()
	var err error
	for _, sc := range schemas {
		data, readErr := os.ReadFile(sc.File)
		if readErr != nil {
			err = multierr.Append(err, fmt.Errorf("schema for %q: %w", sc.Type, readErr))
			continue
		}
		err = multierr.Append(err, registry.Register(sc.Type, string(data)))
	}
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// validator returns the producer validation hook, or nil without schemas.
func validator(registry *jsonschema.Registry) func(*message.Message) error {
	if registry == nil || registry.Len() == 0 {
		return nil
	}
	return registry.ValidateMessage
}
