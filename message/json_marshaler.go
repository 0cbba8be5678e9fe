package message

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const contentTypeJSON = "application/json"

// JSONMarshaler encodes data as JSON with encoding/json compatible output.
type JSONMarshaler struct{}

var _ Marshaler = (*JSONMarshaler)(nil)

func NewJSONMarshaler() *JSONMarshaler { return &JSONMarshaler{} }

func (*JSONMarshaler) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (*JSONMarshaler) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (*JSONMarshaler) DataContentType() string { return contentTypeJSON }
