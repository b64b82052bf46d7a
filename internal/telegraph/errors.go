package telegraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for telegraph decoding and connection handling. These
// enable callers to distinguish failure modes using errors.Is.
var (
	ErrProtocol          = errors.New("telegraph: protocol error")
	ErrUnexpectedChannel = errors.New("telegraph: unexpected channel")
	ErrConnectionLost    = errors.New("telegraph: connection lost")
)

// ProtocolError indicates a malformed header line. It records the offending
// token and the underlying parse failure. It matches ErrProtocol under
// errors.Is.
type ProtocolError struct {
	Token string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("telegraph: protocol error at %q: %v", e.Token, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports ErrProtocol as a match.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}
