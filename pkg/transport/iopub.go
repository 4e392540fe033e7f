package transport

import (
	"context"
	"log/slog"

	"gokernel/pkg/bus"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

// IOPub owns the PUB socket. Publish may be called from any goroutine; Run is
// the single writer.
type IOPub struct {
	sock   Socket
	codec  *protocol.Codec
	queue  *bus.MessageBus
	events bus.EventSink
	log    *slog.Logger
}

func NewIOPub(sock Socket, codec *protocol.Codec, queue *bus.MessageBus, log *slog.Logger) *IOPub {
	return &IOPub{
		sock:   sock,
		codec:  codec,
		queue:  queue,
		events: queue,
		log:    logger.OrDefault(log, "transport.iopub"),
	}
}

// Publish queues msg for broadcast.
func (p *IOPub) Publish(ctx context.Context, msg *protocol.Message) error {
	if !p.queue.PublishIOPub(ctx, msg) {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrClosed
	}
	return nil
}

// Run writes queued messages until the queue is closed and drained.
func (p *IOPub) Run(ctx context.Context) error {
	for {
		msg, ok := p.queue.ConsumeIOPub(context.Background())
		if !ok {
			return nil
		}

		if len(msg.Identities) == 0 {
			msg.Identities = [][]byte{Topic(msg)}
		}

		frames, err := p.codec.Encode(msg)
		if err != nil {
			p.log.Error("Failed to encode iopub message", "msg_type", msg.Header.MsgType, "error", err)
			continue
		}
		if err := p.sock.Send(frames); err != nil {
			p.log.Error("Failed to publish iopub message", "msg_type", msg.Header.MsgType, "error", err)
			continue
		}

		p.events.PublishEvent(ctx, bus.Event{
			Type:    bus.EventIOPubPublished,
			Channel: ChannelIOPub,
			MsgType: msg.Header.MsgType,
			MsgID:   msg.Header.MsgID,
		})
	}
}

// Topic is the subscription prefix frame for an IOPub message.
func Topic(msg *protocol.Message) []byte {
	topic := "kernel." + msg.Header.Session + "." + msg.Header.MsgType
	if stream, ok := msg.Content.(*protocol.Stream); ok {
		topic = "kernel." + msg.Header.Session + ".stream." + stream.Name
	}
	return []byte(topic)
}
