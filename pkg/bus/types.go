package bus

import (
	"context"

	"gokernel/pkg/protocol"
)

// Publisher accepts IOPub messages for the single IOPub writer.
type Publisher interface {
	PublishIOPub(ctx context.Context, msg *protocol.Message) bool
}

// EventSink receives kernel lifecycle events.
type EventSink interface {
	PublishEvent(ctx context.Context, event Event) bool
}
