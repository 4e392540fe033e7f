package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var delimiter = []byte(Delimiter)

// Codec turns messages into signed multipart frames and back.
type Codec struct {
	signer *Signer
}

// NewCodec builds a codec for the connection file's scheme and key.
func NewCodec(scheme string, key string) (*Codec, error) {
	signer, err := NewSigner(scheme, []byte(key))
	if err != nil {
		return nil, err
	}
	return &Codec{signer: signer}, nil
}

// Encode serializes msg as [identities...] <IDS|MSG> signature header parent metadata content [buffers...].
func (c *Codec) Encode(msg *Message) ([][]byte, error) {
	if msg == nil {
		return nil, errors.New("encode nil message")
	}

	header := msg.Header
	if msg.Content != nil {
		if header.MsgType == "" {
			header.MsgType = msg.Content.MsgType()
		} else if header.MsgType != msg.Content.MsgType() {
			return nil, fmt.Errorf("header msg_type %q does not match %q content", header.MsgType, msg.Content.MsgType())
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	parentJSON := []byte("{}")
	if msg.ParentHeader != nil {
		if parentJSON, err = json.Marshal(msg.ParentHeader); err != nil {
			return nil, fmt.Errorf("encode parent header: %w", err)
		}
	}

	metadataJSON := []byte("{}")
	if len(msg.Metadata) > 0 {
		if metadataJSON, err = json.Marshal(msg.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	contentJSON, err := EncodeContent(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", header.MsgType, err)
	}

	frames := make([][]byte, 0, len(msg.Identities)+6+len(msg.Buffers))
	frames = append(frames, msg.Identities...)
	frames = append(frames,
		delimiter,
		[]byte(c.signer.Sign(headerJSON, parentJSON, metadataJSON, contentJSON)),
		headerJSON,
		parentJSON,
		metadataJSON,
		contentJSON,
	)
	frames = append(frames, msg.Buffers...)

	return frames, nil
}

// Decode verifies and parses frames. It returns ErrMissingDelimiter,
// ErrSignature or a *DecodeError on failure.
func (c *Codec) Decode(frames [][]byte) (*Message, error) {
	split := -1
	for i, frame := range frames {
		if bytes.Equal(frame, delimiter) {
			split = i
			break
		}
	}
	if split < 0 {
		return nil, ErrMissingDelimiter
	}

	signed := frames[split+1:]
	if len(signed) < 5 {
		return nil, &DecodeError{Frame: "envelope", Err: fmt.Errorf("got %d frames after delimiter, want at least 5", len(signed))}
	}

	if err := c.signer.Verify(signed[0], signed[1], signed[2], signed[3], signed[4]); err != nil {
		return nil, err
	}

	msg := &Message{}
	if split > 0 {
		msg.Identities = cloneFrames(frames[:split])
	}

	if err := json.Unmarshal(signed[1], &msg.Header); err != nil {
		return nil, &DecodeError{Frame: "header", Err: err}
	}

	var parent Header
	if len(signed[2]) > 0 {
		if err := json.Unmarshal(signed[2], &parent); err != nil {
			return nil, &DecodeError{Frame: "parent_header", MsgType: msg.Header.MsgType, Err: err}
		}
	}
	if !parent.IsZero() {
		msg.ParentHeader = &parent
	}

	msg.Metadata = map[string]any{}
	if len(signed[3]) > 0 {
		if err := json.Unmarshal(signed[3], &msg.Metadata); err != nil {
			return nil, &DecodeError{Frame: "metadata", MsgType: msg.Header.MsgType, Err: err}
		}
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
	}

	content, err := DecodeContent(msg.Header.MsgType, signed[4])
	if err != nil {
		return nil, &DecodeError{Frame: "content", MsgType: msg.Header.MsgType, Err: err}
	}
	msg.Content = content

	if len(signed) > 5 {
		msg.Buffers = cloneFrames(signed[5:])
	}

	return msg, nil
}
