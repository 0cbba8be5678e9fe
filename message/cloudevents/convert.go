package cloudevents

import (
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/fxsml/gopipe-cep/message"
)

var coreAttributes = map[string]bool{
	message.AttrID:              true,
	message.AttrType:            true,
	message.AttrSource:          true,
	message.AttrSpecVersion:     true,
	message.AttrTime:            true,
	message.AttrDataContentType: true,
	message.AttrDataSchema:      true,
	message.AttrSubject:         true,
}

// ToCloudEvent converts msg into a CloudEvent with data encoded by
// marshaler. Attributes outside the CloudEvents core set become string
// extensions; see ExtensionName.
func ToCloudEvent(msg *message.Message, marshaler message.Marshaler) (*cloudevents.Event, error) {
	if msg == nil {
		return nil, message.ErrNilMessage
	}
	return toEvent(msg.Data, msg.Attributes.Strings(), marshaler)
}

func toEvent(data any, attrs map[string]string, marshaler message.Marshaler) (*cloudevents.Event, error) {
	e := cloudevents.NewEvent()

	id := attrs[message.AttrID]
	if id == "" {
		id = message.NewID()
	}
	e.SetID(id)
	if v := attrs[message.AttrType]; v != "" {
		e.SetType(v)
	}
	if v := attrs[message.AttrSource]; v != "" {
		e.SetSource(v)
	}
	if v := attrs[message.AttrTime]; v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.SetTime(t)
		}
	}
	if v := attrs[message.AttrDataSchema]; v != "" {
		e.SetDataSchema(v)
	}
	if v := attrs[message.AttrSubject]; v != "" {
		e.SetSubject(v)
	}

	for k, v := range attrs {
		if coreAttributes[k] {
			continue
		}
		if name := ExtensionName(k); name != "" {
			e.SetExtension(name, v)
		}
	}

	if data != nil {
		b, err := marshaler.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		if err := e.SetData(marshaler.DataContentType(), b); err != nil {
			return nil, fmt.Errorf("set data: %w", err)
		}
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &e, nil
}

// ExtensionName reduces an attribute key to a valid CloudEvents extension
// name by lowercasing it and dropping everything but letters and digits,
// e.g. "endpoint-name" becomes "endpointname".
func ExtensionName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FromCloudEvent converts a CloudEvent into a message bound to acking, which
// may be nil. JSON data is decoded with marshaler; other data is kept as
// bytes.
func FromCloudEvent(e *cloudevents.Event, marshaler message.Marshaler, acking *message.Acking) (*message.Message, error) {
	if e == nil {
		return nil, fmt.Errorf("nil event")
	}

	attrs := message.Attributes{
		message.AttrID:          e.ID(),
		message.AttrSpecVersion: e.SpecVersion(),
		message.AttrType:        e.Type(),
		message.AttrSource:      e.Source(),
	}
	if v := e.DataContentType(); v != "" {
		attrs[message.AttrDataContentType] = v
	}
	if v := e.DataSchema(); v != "" {
		attrs[message.AttrDataSchema] = v
	}
	if v := e.Subject(); v != "" {
		attrs[message.AttrSubject] = v
	}
	if t := e.Time(); !t.IsZero() {
		attrs[message.AttrTime] = t.UTC().Format(time.RFC3339)
	}
	for k, v := range e.Extensions() {
		attrs[k] = v
	}

	var data any
	if b := e.Data(); len(b) > 0 {
		ct := e.DataContentType()
		if ct == "" || ct == marshaler.DataContentType() {
			if err := marshaler.Unmarshal(b, &data); err != nil {
				return nil, fmt.Errorf("unmarshal data: %w", err)
			}
		} else {
			data = append([]byte(nil), b...)
		}
	}

	return message.NewWithAcking(data, attrs, acking), nil
}
