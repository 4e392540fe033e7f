package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Content is a typed message payload. MsgType returns the header tag it travels under.
type Content interface {
	MsgType() string
}

// Request is content that expects a terminal reply of ReplyType on the same channel.
type Request interface {
	Content
	ReplyType() string
}

// Reply is content answering a request of RequestType.
type Reply interface {
	Content
	RequestType() string
}

// ContentDecoder parses the content frame for one tag.
type ContentDecoder func(raw []byte) (Content, error)

// ContentEncoder serializes content for one tag.
type ContentEncoder func(Content) ([]byte, error)

type contentCodec struct {
	decode ContentDecoder
	encode ContentEncoder
}

var (
	contentMu       sync.RWMutex
	contentRegistry = map[string]contentCodec{}
)

// RegisterContent binds a tag to its decode/encode pair. A nil encoder means
// plain JSON marshalling. Registering a tag twice replaces the earlier entry.
func RegisterContent(tag string, decode ContentDecoder, encode ContentEncoder) {
	if encode == nil {
		encode = func(c Content) ([]byte, error) { return json.Marshal(c) }
	}

	contentMu.Lock()
	defer contentMu.Unlock()
	contentRegistry[tag] = contentCodec{decode: decode, encode: encode}
}

// registerJSON registers a pointer content type decoded with encoding/json.
// Reply tags also resolve the status discriminator into ErrorReply.
func registerJSON[T any, PT interface {
	*T
	Content
}](tag string) {
	decode := func(raw []byte) (Content, error) {
		value := PT(new(T))
		if err := json.Unmarshal(raw, value); err != nil {
			return nil, err
		}
		return value, nil
	}
	if IsReplyType(tag) {
		decode = replyDecoder(tag, decode)
	}
	RegisterContent(tag, decode, nil)
}

func replyDecoder(tag string, next ContentDecoder) ContentDecoder {
	return func(raw []byte) (Content, error) {
		var probe struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, err
		}
		if probe.Status != StatusError {
			return next(raw)
		}

		reply := &ErrorReply{Reply: tag}
		if err := json.Unmarshal(raw, reply); err != nil {
			return nil, err
		}
		return reply, nil
	}
}

// DecodeContent resolves the content frame for tag through the registry.
// Unregistered tags decode into RawContent.
func DecodeContent(tag string, raw []byte) (Content, error) {
	contentMu.RLock()
	codec, ok := contentRegistry[tag]
	contentMu.RUnlock()

	if !ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("content is not valid JSON")
		}
		return &RawContent{Tag: tag, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	return codec.decode(raw)
}

// EncodeContent serializes content through the registry entry for its tag.
func EncodeContent(content Content) ([]byte, error) {
	if content == nil {
		return []byte("{}"), nil
	}
	if raw, ok := content.(*RawContent); ok {
		return raw.MarshalJSON()
	}

	contentMu.RLock()
	codec, ok := contentRegistry[content.MsgType()]
	contentMu.RUnlock()

	if !ok {
		return json.Marshal(content)
	}
	return codec.encode(content)
}

// IsReplyType reports whether tag names a reply.
func IsReplyType(tag string) bool {
	return strings.HasSuffix(tag, "_reply")
}

// ReplyTypeFor derives the reply tag for a request tag, e.g. execute_request
// becomes execute_reply. Non-request tags return "".
func ReplyTypeFor(tag string) string {
	base, ok := strings.CutSuffix(tag, "_request")
	if !ok {
		return ""
	}
	return base + "_reply"
}

// RequestTypeFor derives the request tag for a reply tag.
func RequestTypeFor(tag string) string {
	base, ok := strings.CutSuffix(tag, "_reply")
	if !ok {
		return ""
	}
	return base + "_request"
}

// RawContent carries the payload of an unregistered message type untouched.
type RawContent struct {
	Tag string
	Raw json.RawMessage
}

func (c *RawContent) MsgType() string { return c.Tag }

func (c *RawContent) MarshalJSON() ([]byte, error) {
	if len(c.Raw) == 0 {
		return []byte("{}"), nil
	}
	return c.Raw, nil
}
