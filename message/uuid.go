package message

import "github.com/google/uuid"

// IDGenerator generates unique message IDs.
type IDGenerator func() string

// DefaultIDGenerator is used to populate the id attribute of messages created
// by endpoints. Replace it in tests for deterministic IDs.
var DefaultIDGenerator IDGenerator = uuid.NewString

// NewID generates an ID with DefaultIDGenerator.
func NewID() string {
	return DefaultIDGenerator()
}
