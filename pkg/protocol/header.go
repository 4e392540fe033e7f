package protocol

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Version is the messaging protocol version this package speaks.
	Version = "5.3"
	// Delimiter separates routing identities from the signed frames.
	Delimiter = "<IDS|MSG>"
)

// Header identifies one message on the wire.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	Date     string `json:"date"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

// NewHeader builds a fresh header with a random msg_id and the current time.
func NewHeader(msgType string, session string, username string) Header {
	return Header{
		MsgID:    uuid.NewString(),
		Username: username,
		Session:  session,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
		MsgType:  msgType,
		Version:  Version,
	}
}

// IsZero reports whether h carries no fields, which is how an absent parent
// header arrives on the wire.
func (h Header) IsZero() bool {
	return h == Header{}
}
