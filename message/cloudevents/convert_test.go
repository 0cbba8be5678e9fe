package cloudevents

import (
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxsml/gopipe-cep/message"
)

func TestToCloudEvent(t *testing.T) {
	msg := message.New(map[string]any{"amount": 150}, message.Attributes{
		message.AttrID:      "id-1",
		message.AttrType:    "cep.event",
		message.AttrSource:  "cep:orders",
		message.AttrSubject: "Order",
		message.AttrTime:    "2024-05-01T10:00:00Z",
		"endpoint-name":     "orders",
		"map-events":        true,
	})

	e, err := ToCloudEvent(msg, message.NewJSONMarshaler())
	require.NoError(t, err)

	assert.Equal(t, "id-1", e.ID())
	assert.Equal(t, "cep.event", e.Type())
	assert.Equal(t, "cep:orders", e.Source())
	assert.Equal(t, "Order", e.Subject())
	assert.Equal(t, "application/json", e.DataContentType())
	assert.Equal(t, 2024, e.Time().Year())
	assert.JSONEq(t, `{"amount":150}`, string(e.Data()))

	ext := e.Extensions()
	assert.Equal(t, "orders", ext["endpointname"])
	assert.Equal(t, "true", ext["mapevents"])
}

func TestToCloudEvent_Invalid(t *testing.T) {
	_, err := ToCloudEvent(nil, message.NewJSONMarshaler())
	assert.ErrorIs(t, err, message.ErrNilMessage)

	_, err = ToCloudEvent(message.New("x", nil), message.NewJSONMarshaler())
	assert.Error(t, err, "type and source are required")
}

func TestFromCloudEvent(t *testing.T) {
	e := cloudevents.NewEvent()
	e.SetID("id-2")
	e.SetType("Order")
	e.SetSource("/shop")
	e.SetExtension("region", "eu")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, map[string]any{"amount": 10}))

	acked := false
	msg, err := FromCloudEvent(&e, message.NewJSONMarshaler(), message.NewAcking(func() { acked = true }, func(error) {}))
	require.NoError(t, err)

	typ, _ := msg.Attributes.Type()
	assert.Equal(t, "Order", typ)
	assert.Equal(t, "eu", msg.Attributes["region"])
	assert.Equal(t, map[string]any{"amount": float64(10)}, msg.Data)

	msg.Ack()
	assert.True(t, acked)
}

func TestFromCloudEvent_BinaryData(t *testing.T) {
	e := cloudevents.NewEvent()
	e.SetID("id-3")
	e.SetType("Blob")
	e.SetSource("/shop")
	require.NoError(t, e.SetData("application/octet-stream", []byte{1, 2, 3}))

	msg, err := FromCloudEvent(&e, message.NewJSONMarshaler(), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, msg.Data)
}

func TestExtensionName(t *testing.T) {
	assert.Equal(t, "endpointname", ExtensionName("endpoint-name"))
	assert.Equal(t, "queryhandle", ExtensionName("Query_Handle"))
	assert.Equal(t, "", ExtensionName("--"))
}
