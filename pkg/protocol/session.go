package protocol

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Session stamps outbound messages with a stable session id and username.
type Session struct {
	ID       string
	Username string
}

// NewSession returns a session with a random id.
func NewSession(username string) Session {
	if username == "" {
		username = "kernel"
	}
	return Session{ID: uuid.NewString(), Username: username}
}

// Message builds a spontaneous message with no parent.
func (s Session) Message(content Content) *Message {
	return &Message{
		Header:  NewHeader(content.MsgType(), s.ID, s.Username),
		Content: content,
	}
}

// Reply builds a message routed back to the sender of parent.
func (s Session) Reply(parent *Message, content Content) *Message {
	msg := s.Event(parent, content)
	msg.Identities = cloneFrames(parent.Identities)
	return msg
}

// Event builds a broadcast message parented to parent.
func (s Session) Event(parent *Message, content Content) *Message {
	msg := s.Message(content)
	if parent != nil {
		header := parent.Header
		msg.ParentHeader = &header
	}
	return msg
}

// Message is one decoded envelope. Decode always yields a non-nil Metadata
// map; Encode sends a nil or empty one as {}. An empty parent header decodes
// to a nil ParentHeader.
type Message struct {
	Identities   [][]byte
	Header       Header
	ParentHeader *Header
	Metadata     map[string]any
	Content      Content
	Buffers      [][]byte

	// Received is the order in which the kernel read the message off its
	// channel, starting at 1. It is never encoded; zero means not stamped.
	Received uint64
}

// MsgType returns the header's message type tag.
func (m *Message) MsgType() string {
	return m.Header.MsgType
}

// Clone returns a copy that shares no slices or maps with m. Content is shared.
func (m *Message) Clone() *Message {
	out := *m
	out.Identities = cloneFrames(m.Identities)
	out.Buffers = cloneFrames(m.Buffers)
	if m.ParentHeader != nil {
		parent := *m.ParentHeader
		out.ParentHeader = &parent
	}
	if m.Metadata != nil {
		out.Metadata = maps.Clone(m.Metadata)
	}
	return &out
}

// SameIdentities reports whether two identity prefixes are byte-equal.
func SameIdentities(a, b [][]byte) bool {
	return slices.EqualFunc(a, b, func(x, y []byte) bool { return string(x) == string(y) })
}

func cloneFrames(frames [][]byte) [][]byte {
	if frames == nil {
		return nil
	}
	out := make([][]byte, len(frames))
	for i, frame := range frames {
		out[i] = slices.Clone(frame)
	}
	return out
}
