package dispatch

import (
	"context"
	"errors"
	"sync"

	"gokernel/pkg/protocol"
)

var (
	// ErrAlreadyReplied is returned by a second Reply for the same request.
	ErrAlreadyReplied = errors.New("reply already sent")
	// ErrNoStdin is returned by Input when no stdin channel is attached.
	ErrNoStdin = errors.New("stdin channel not available")
)

// Replier sends a message back on the channel a request arrived on.
type Replier interface {
	Send(msg *protocol.Message) error
}

// ReceiptCounter is implemented by repliers that number the requests they
// receive, such as transport.Channel.
type ReceiptCounter interface {
	LastReceived() uint64
}

// Publisher broadcasts on IOPub.
type Publisher interface {
	Publish(ctx context.Context, msg *protocol.Message) error
}

// InputRequester performs the stdin round trip.
type InputRequester interface {
	RequestInput(ctx context.Context, parent *protocol.Message, prompt string, password bool) (string, error)
}

// ReplyEnv is the per-request environment handed to a handler. It is
// discarded once the dispatcher has published idle.
type ReplyEnv struct {
	Request *protocol.Message

	channel string
	session protocol.Session
	replier Replier
	iopub   Publisher
	stdin   InputRequester

	mu      sync.Mutex
	replied bool
}

// Channel names the channel the request arrived on.
func (e *ReplyEnv) Channel() string {
	return e.channel
}

// LastReceived returns the receipt order of the newest request read on this
// request's channel. Without a ReceiptCounter it is the request's own order.
func (e *ReplyEnv) LastReceived() uint64 {
	if counter, ok := e.replier.(ReceiptCounter); ok {
		return counter.LastReceived()
	}
	return e.Request.Received
}

// Session returns the kernel session used to stamp messages.
func (e *ReplyEnv) Session() protocol.Session {
	return e.session
}

// Publish broadcasts content on IOPub parented to the request.
func (e *ReplyEnv) Publish(ctx context.Context, content protocol.Content) error {
	return e.iopub.Publish(ctx, e.session.Event(e.Request, content))
}

// Reply sends the terminal reply. Only the first call is sent.
func (e *ReplyEnv) Reply(_ context.Context, content protocol.Content) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.replied {
		return ErrAlreadyReplied
	}
	e.replied = true
	return e.replier.Send(e.session.Reply(e.Request, content))
}

// Replied reports whether Reply has been called.
func (e *ReplyEnv) Replied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replied
}

// Input asks the frontend for a line of input. Callers must only use it while
// handling a request that allowed stdin.
func (e *ReplyEnv) Input(ctx context.Context, prompt string, password bool) (string, error) {
	if e.stdin == nil {
		return "", ErrNoStdin
	}
	return e.stdin.RequestInput(ctx, e.Request, prompt, password)
}
