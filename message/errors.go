package message

import "errors"

// ErrNilMessage is returned when a nil message is passed where one is required.
var ErrNilMessage = errors.New("message: nil message")
