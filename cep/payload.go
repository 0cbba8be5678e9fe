package cep

import "github.com/fxsml/gopipe-cep/message"

// Payload returns the value transports should encode for msg.
//
// Messages carrying an EventBean are unwrapped: to the bean's property map
// when the message is marked with AttrMapEvents, otherwise to the engine's
// underlying event. Any other data is returned unchanged.
func Payload(msg *message.Message) any {
	ev, ok := msg.Data.(EventBean)
	if !ok {
		return msg.Data
	}
	if mapEvents, _ := msg.Attributes[AttrMapEvents].(bool); mapEvents {
		return ev.Properties()
	}
	return ev.Underlying()
}

// Headers renders msg's attributes as strings for transport headers.
// The query handle is rendered as its ID.
func Headers(msg *message.Message) map[string]string {
	q, ok := msg.Attributes[AttrQueryHandle].(Query)
	if !ok {
		return msg.Attributes.Strings()
	}
	attrs := make(message.Attributes, len(msg.Attributes))
	for k, v := range msg.Attributes {
		if k != AttrQueryHandle {
			attrs[k] = v
		}
	}
	headers := attrs.Strings()
	if q != nil {
		headers[AttrQueryHandle] = q.ID()
	}
	return headers
}
