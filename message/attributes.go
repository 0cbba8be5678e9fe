package message

import "fmt"

// Attributes is a map of message context attributes per CloudEvents spec,
// extended with endpoint-specific headers.
//
// Thread safety: Attributes is not safe for concurrent read/write access.
type Attributes map[string]any

// CloudEvents attribute keys for use in Attributes map literals.
const (
	// AttrID is required by CloudEvents. Unique event identifier.
	AttrID = "id"
	// AttrType is required by CloudEvents. Event type (e.g., "order.created").
	AttrType = "type"
	// AttrSource is required by CloudEvents. Event source URI.
	AttrSource = "source"
	// AttrSpecVersion is required by CloudEvents. Spec version (default "1.0").
	AttrSpecVersion = "specversion"
	// AttrSubject is optional in CloudEvents. Event subject/context.
	AttrSubject = "subject"
	// AttrTime is optional in CloudEvents. Event timestamp (RFC3339).
	AttrTime = "time"
	// AttrDataContentType is optional in CloudEvents. Data content type.
	AttrDataContentType = "datacontenttype"
	// AttrDataSchema is optional in CloudEvents. Data schema URI.
	AttrDataSchema = "dataschema"
)

// String returns the attribute as a string.
// Returns false if the attribute is missing or not a string.
func (a Attributes) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

// ID returns the id attribute.
func (a Attributes) ID() (string, bool) { return a.String(AttrID) }

// Type returns the type attribute.
func (a Attributes) Type() (string, bool) { return a.String(AttrType) }

// Source returns the source attribute.
func (a Attributes) Source() (string, bool) { return a.String(AttrSource) }

// Subject returns the subject attribute.
func (a Attributes) Subject() (string, bool) { return a.String(AttrSubject) }

// Strings renders every attribute as a string, for transports whose headers
// only carry text. Values implementing fmt.Stringer use String(); nil values
// are skipped.
func (a Attributes) Strings() map[string]string {
	out := make(map[string]string, len(a))
	for k, v := range a {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case fmt.Stringer:
			out[k] = val.String()
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
