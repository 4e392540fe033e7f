package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingDelimiter reports a frame set without the <IDS|MSG> separator.
	ErrMissingDelimiter = errors.New("missing <IDS|MSG> delimiter frame")
	// ErrSignature reports an HMAC mismatch against a configured key.
	ErrSignature = errors.New("invalid message signature")
	// ErrUnsupportedScheme reports an unknown signature_scheme value.
	ErrUnsupportedScheme = errors.New("unsupported signature scheme")
)

// DecodeError describes a frame that could not be parsed.
type DecodeError struct {
	Frame   string
	MsgType string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.MsgType != "" {
		return fmt.Sprintf("decode %s frame of %s: %v", e.Frame, e.MsgType, e.Err)
	}
	return fmt.Sprintf("decode %s frame: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
