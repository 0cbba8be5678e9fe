package message

// Marshaler converts message data to and from bytes at transport edges.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// DataContentType is written to the datacontenttype attribute.
	DataContentType() string
}
