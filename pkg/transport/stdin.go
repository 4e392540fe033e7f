package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

// Stdin issues input_request messages on the stdin ROUTER and waits for the
// matching input_reply.
type Stdin struct {
	sock    Socket
	codec   *protocol.Codec
	session protocol.Session
	log     *slog.Logger

	// requestMu admits one outstanding request at a time.
	requestMu sync.Mutex
	sendMu    sync.Mutex
	replies   chan *protocol.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func NewStdin(sock Socket, codec *protocol.Codec, session protocol.Session, log *slog.Logger) *Stdin {
	return &Stdin{
		sock:    sock,
		codec:   codec,
		session: session,
		log:     logger.OrDefault(log, "transport.stdin"),
		replies: make(chan *protocol.Message, 16),
		closed:  make(chan struct{}),
	}
}

// Run reads replies from the socket until it closes.
func (s *Stdin) Run(ctx context.Context) error {
	defer s.closeOnce.Do(func() { close(s.closed) })

	for {
		frames, err := s.sock.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		msg, err := s.codec.Decode(frames)
		if err != nil {
			s.log.Warn("Rejected message", "error", err)
			continue
		}
		if msg.Header.MsgType != protocol.MsgInputReply {
			s.log.Warn("Unexpected message on stdin", "msg_type", msg.Header.MsgType)
			continue
		}

		select {
		case s.replies <- msg:
		default:
			s.log.Warn("Dropped input reply with no waiter", "msg_id", msg.Header.MsgID)
		}
	}
}

// RequestInput sends an input_request parented to parent, routed with the
// parent's identities, and blocks for the matching reply. Replies carrying
// other identities or answering another request are discarded. It is only
// valid while handling a request that set allow_stdin.
func (s *Stdin) RequestInput(ctx context.Context, parent *protocol.Message, prompt string, password bool) (string, error) {
	if parent == nil {
		return "", errors.New("input request needs a parent message")
	}

	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	s.drainStale()

	request := s.session.Reply(parent, &protocol.InputRequest{Prompt: prompt, Password: password})
	frames, err := s.codec.Encode(request)
	if err != nil {
		return "", err
	}

	s.sendMu.Lock()
	err = s.sock.Send(frames)
	s.sendMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("send input request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.closed:
			return "", ErrClosed
		case reply := <-s.replies:
			if !matchesRequest(reply, request) {
				s.log.Warn("Discarded mismatched input reply", "msg_id", reply.Header.MsgID)
				continue
			}
			content, ok := reply.Content.(*protocol.InputReply)
			if !ok {
				continue
			}
			return content.Value, nil
		}
	}
}

func (s *Stdin) drainStale() {
	for {
		select {
		case reply := <-s.replies:
			s.log.Debug("Discarded stale input reply", "msg_id", reply.Header.MsgID)
		default:
			return
		}
	}
}

func matchesRequest(reply *protocol.Message, request *protocol.Message) bool {
	if reply.ParentHeader == nil || reply.ParentHeader.MsgID != request.Header.MsgID {
		return false
	}
	return protocol.SameIdentities(reply.Identities, request.Identities)
}
