package memory

import (
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// PatternEventType is the event type of completed pattern matches.
const PatternEventType = "pattern"

// ValueKey holds scalar events in their property map.
const ValueKey = "value"

// Bean is an event emitted by a query.
type Bean struct {
	typ        string
	props      map[string]any
	underlying any
}

// EventType implements cep.EventBean.
func (b *Bean) EventType() string { return b.typ }

// Get implements cep.EventBean.
func (b *Bean) Get(property string) (any, bool) {
	v, ok := b.props[property]
	return v, ok
}

// Properties implements cep.EventBean.
func (b *Bean) Properties() map[string]any { return b.props }

// Underlying returns the event as sent for "select *" statements, and the
// property map otherwise.
func (b *Bean) Underlying() any { return b.underlying }

// normalize turns an event into the property map filters are evaluated on.
// Maps and structs are decoded with mapstructure; anything else is stored
// under ValueKey.
func normalize(event any) (map[string]any, error) {
	switch ev := event.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	case map[string]any:
		return ev, nil
	}

	v := reflect.Indirect(reflect.ValueOf(event))
	switch v.Kind() {
	case reflect.Struct, reflect.Map:
		props := make(map[string]any)
		if err := mapstructure.Decode(v.Interface(), &props); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		return props, nil
	case reflect.Invalid:
		return nil, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	default:
		return map[string]any{ValueKey: event}, nil
	}
}
