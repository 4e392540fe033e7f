package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"gokernel/pkg/bus"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

// readAhead bounds how many decoded requests wait behind the one being
// handled.
const readAhead = 64

// Handler processes one decoded request.
type Handler func(ctx context.Context, msg *protocol.Message)

// Channel is a request/reply channel over a ROUTER socket (shell, control).
type Channel struct {
	name   string
	sock   Socket
	codec  *protocol.Codec
	events bus.EventSink
	log    *slog.Logger

	sendMu   sync.Mutex
	received atomic.Uint64
}

// NewChannel wraps sock. events may be nil.
func NewChannel(name string, sock Socket, codec *protocol.Codec, events bus.EventSink, log *slog.Logger) *Channel {
	return &Channel{
		name:   name,
		sock:   sock,
		codec:  codec,
		events: events,
		log:    logger.OrDefault(log, "transport."+name),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Send encodes and sends msg. Its identities route it to the frontend.
func (c *Channel) Send(msg *protocol.Message) error {
	frames, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sock.Send(frames)
}

// Serve receives messages until ctx is done or the socket closes, calling
// handle for each one in receipt order. A reader goroutine keeps receiving
// while handle runs, so every request is stamped with its receipt order as
// soon as it arrives. Messages failing signature or decode checks are logged
// and dropped.
func (c *Channel) Serve(ctx context.Context, handle Handler) error {
	queue := make(chan *protocol.Message, readAhead)
	var readErr error
	go func() {
		defer close(queue)
		for {
			msg, err := c.Receive(ctx)
			if err != nil {
				readErr = err
				return
			}
			if msg == nil {
				continue
			}
			select {
			case queue <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range queue {
		if ctx.Err() != nil {
			continue
		}
		handle(ctx, msg)
	}

	if readErr == nil || ctx.Err() != nil || errors.Is(readErr, ErrClosed) {
		return nil
	}
	return readErr
}

// LastReceived returns the receipt order of the newest valid message, or zero
// before the first one.
func (c *Channel) LastReceived() uint64 {
	return c.received.Load()
}

// Receive returns the next valid message. A nil message with a nil error
// means a frame set was rejected.
func (c *Channel) Receive(ctx context.Context) (*protocol.Message, error) {
	frames, err := c.sock.Recv()
	if err != nil {
		return nil, err
	}

	msg, err := c.codec.Decode(frames)
	if err != nil {
		c.reject(ctx, err)
		return nil, nil
	}
	msg.Received = c.received.Add(1)

	c.publish(ctx, bus.Event{
		Type:    bus.EventMessageReceived,
		Channel: c.name,
		MsgType: msg.Header.MsgType,
		MsgID:   msg.Header.MsgID,
		Session: msg.Header.Session,
	})
	return msg, nil
}

func (c *Channel) reject(ctx context.Context, err error) {
	reason := "decode"
	switch {
	case errors.Is(err, protocol.ErrSignature):
		reason = "signature"
	case errors.Is(err, protocol.ErrMissingDelimiter):
		reason = "delimiter"
	}

	c.log.Warn("Rejected message", "reason", reason, "error", err)
	c.publish(ctx, bus.Event{
		Type:    bus.EventMessageRejected,
		Channel: c.name,
		Payload: map[string]string{"reason": reason},
		Error:   err.Error(),
	})
}

func (c *Channel) publish(ctx context.Context, event bus.Event) {
	if c.events != nil {
		c.events.PublishEvent(ctx, event)
	}
}
