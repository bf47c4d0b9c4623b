package core

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means a domain precondition failed, e.g. generating a
// game with no notes. It is user-facing and retryable after adding notes.
var ErrInsufficientData = errors.New("not enough memories for this activity")

// ErrGenerationInProgress is returned when an action is rejected because a
// generation is already outstanding for the same state machine.
var ErrGenerationInProgress = errors.New("a generation is already in progress")

// ProtocolError marks the single point where model unreliability is
// contained: the raw response did not conform to the requested JSON shape.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed model response: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed model response: %s", e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsMalformedResponse reports whether err is a protocol failure, as opposed
// to a gateway or store failure.
func IsMalformedResponse(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
