// Package dispatch routes shell and control requests to handlers and brackets
// each one with busy and idle status broadcasts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"gokernel/pkg/bus"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

// Handler answers one request through env. Returning an error before replying
// makes the dispatcher send an error reply.
type Handler func(ctx context.Context, env *ReplyEnv) error

// Dispatcher maps msg_type tags to handlers.
type Dispatcher struct {
	session protocol.Session
	iopub   Publisher
	stdin   InputRequester
	events  bus.EventSink
	log     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Options carries the dispatcher's collaborators. Stdin and Events are optional.
type Options struct {
	Session protocol.Session
	IOPub   Publisher
	Stdin   InputRequester
	Events  bus.EventSink
	Log     *slog.Logger
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		session:  opts.Session,
		iopub:    opts.IOPub,
		stdin:    opts.Stdin,
		events:   opts.Events,
		log:      logger.OrDefault(opts.Log, "dispatch"),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for msgType, replacing any earlier handler.
func (d *Dispatcher) Handle(msgType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = h
}

func (d *Dispatcher) handler(msgType string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[msgType]
	return h, ok
}

// Dispatch runs one request: busy, handler, idle. Idle is published even
// when the handler fails or panics.
func (d *Dispatcher) Dispatch(ctx context.Context, channel string, replier Replier, req *protocol.Message) {
	start := time.Now()
	msgType := req.Header.MsgType
	log := d.log.With("channel", channel, "msg_type", msgType, "msg_id", req.Header.MsgID)

	d.publishStatus(ctx, req, protocol.StateBusy, log)
	defer d.publishStatus(ctx, req, protocol.StateIdle, log)

	env := &ReplyEnv{
		Request: req,
		channel: channel,
		session: d.session,
		replier: replier,
		iopub:   d.iopub,
		stdin:   d.stdin,
	}

	h, ok := d.handler(msgType)
	if !ok {
		log.Warn("Unsupported message type")
		return
	}

	err := invoke(ctx, h, env)
	event := bus.Event{
		Type:     bus.EventRequestHandled,
		Channel:  channel,
		MsgType:  msgType,
		MsgID:    req.Header.MsgID,
		Session:  req.Header.Session,
		Duration: time.Since(start),
	}

	if err != nil {
		log.Error("Handler failed", "error", err)
		event.Type = bus.EventRequestFailed
		event.Error = err.Error()

		if !env.Replied() {
			if replyType := replyTypeOf(req); replyType != "" {
				reply := protocol.NewErrorReply(replyType, errorName(err), err.Error(), tracebackOf(err))
				if replyErr := env.Reply(ctx, reply); replyErr != nil {
					log.Error("Failed to send error reply", "error", replyErr)
				}
			}
		}
	}

	if d.events != nil {
		d.events.PublishEvent(ctx, event)
	}
}

func (d *Dispatcher) publishStatus(ctx context.Context, req *protocol.Message, state string, log *slog.Logger) {
	if err := d.iopub.Publish(ctx, d.session.Event(req, &protocol.Status{ExecutionState: state})); err != nil {
		log.Error("Failed to publish status", "state", state, "error", err)
	}
}

// PanicError wraps a recovered handler panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

func invoke(ctx context.Context, h Handler, env *ReplyEnv) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return h(ctx, env)
}

func replyTypeOf(req *protocol.Message) string {
	if typed, ok := req.Content.(protocol.Request); ok {
		return typed.ReplyType()
	}
	return protocol.ReplyTypeFor(req.Header.MsgType)
}

// NamedError lets a handler error choose the ename and traceback of the
// error reply the dispatcher sends for it.
type NamedError interface {
	error
	ErrorName() string
	Traceback() []string
}

func errorName(err error) string {
	var named NamedError
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return "KernelPanic"
	}
	return "KernelError"
}

func tracebackOf(err error) []string {
	var named NamedError
	if errors.As(err, &named) {
		return named.Traceback()
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return strings.Split(strings.TrimSpace(panicErr.Stack), "\n")
	}
	return []string{err.Error()}
}
