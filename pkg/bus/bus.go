package bus

import (
	"context"
	"sync"

	"gokernel/pkg/protocol"
)

const defaultBufferSize = 256

// MessageBus queues IOPub messages for one writer goroutine and fans kernel
// events out to observers.
type MessageBus struct {
	iopub chan *protocol.Message

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		iopub:            make(chan *protocol.Message, defaultBufferSize),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishIOPub enqueues msg. It blocks while the queue is full and returns
// false once ctx is done or the bus is closed.
func (mb *MessageBus) PublishIOPub(ctx context.Context, msg *protocol.Message) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.iopub <- msg:
		return true
	}
}

// ConsumeIOPub returns the next queued message. Queued messages are still
// delivered after Close until the queue is empty.
func (mb *MessageBus) ConsumeIOPub(ctx context.Context) (*protocol.Message, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case msg := <-mb.iopub:
		return msg, true
	default:
	}

	select {
	case <-ctx.Done():
		return nil, false
	case msg := <-mb.iopub:
		return msg, true
	case <-mb.done:
		select {
		case msg := <-mb.iopub:
			return msg, true
		default:
			return nil, false
		}
	}
}

// Done is closed by Close.
func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
