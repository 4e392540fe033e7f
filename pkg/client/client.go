// Package client is a frontend for a running kernel: it sends requests,
// collects the IOPub output each one produces and answers input requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gokernel/pkg/config"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
	"gokernel/pkg/transport"
)

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("client closed")

// InputFunc answers an input_request. Without one the client replies with an
// empty string.
type InputFunc func(ctx context.Context, prompt string, password bool) (string, error)

// Options configures a Client.
type Options struct {
	Username string
	Input    InputFunc
	// OnIOPub receives IOPub messages that belong to no pending request.
	OnIOPub func(msg *protocol.Message)
	Log     *slog.Logger
}

// Result is the reply to one request plus the IOPub output parented to it,
// excluding busy and idle.
type Result struct {
	Reply   *protocol.Message
	Outputs []*protocol.Message
}

// Client talks to one kernel over shell, control, stdin, iopub and heartbeat.
type Client struct {
	session protocol.Session
	sockets *transport.Sockets
	shell   *transport.Channel
	control *transport.Channel
	stdin   *transport.Channel
	iopub   *transport.Channel
	input   InputFunc
	onIOPub func(msg *protocol.Message)
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]*call
	closed  bool

	hbMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connect dials the endpoints in info and starts the client.
func Connect(ctx context.Context, info *config.ConnectionInfo, opts Options) (*Client, error) {
	sockets, err := transport.Connect(ctx, info, uuid.NewString())
	if err != nil {
		return nil, err
	}
	c, err := New(sockets, info.SignatureScheme, info.Key, opts)
	if err != nil {
		return nil, errors.Join(err, sockets.Close())
	}
	return c, nil
}

// New starts a client on already connected sockets.
func New(sockets *transport.Sockets, scheme string, key string, opts Options) (*Client, error) {
	codec, err := protocol.NewCodec(scheme, key)
	if err != nil {
		return nil, err
	}

	log := logger.OrDefault(opts.Log, "client")
	c := &Client{
		session: protocol.NewSession(opts.Username),
		sockets: sockets,
		shell:   transport.NewChannel(transport.ChannelShell, sockets.Shell, codec, nil, log),
		control: transport.NewChannel(transport.ChannelControl, sockets.Control, codec, nil, log),
		stdin:   transport.NewChannel(transport.ChannelStdin, sockets.Stdin, codec, nil, log),
		iopub:   transport.NewChannel(transport.ChannelIOPub, sockets.IOPub, codec, nil, log),
		input:   opts.Input,
		onIOPub: opts.OnIOPub,
		log:     log,
		pending: make(map[string]*call),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.serve(ctx, c.shell, c.handleReply)
	c.serve(ctx, c.control, c.handleReply)
	c.serve(ctx, c.iopub, c.handleIOPub)
	c.serve(ctx, c.stdin, c.handleInputRequest)
	return c, nil
}

// Session returns the client session stamped on requests.
func (c *Client) Session() protocol.Session {
	return c.session
}

func (c *Client) serve(ctx context.Context, ch *transport.Channel, handle transport.Handler) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := ch.Serve(ctx, handle); err != nil {
			c.log.Warn("Channel reader stopped", "channel", ch.Name(), "error", err)
		}
	}()
}

// Close stops the readers and closes every socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, pending := range c.pending {
		pending.fail(ErrClosed)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.cancel()
	err := c.sockets.Close()
	c.wg.Wait()
	return err
}

// call tracks one request until both its reply and its idle status arrived.
type call struct {
	onOutput func(*protocol.Message)

	mu      sync.Mutex
	reply   *protocol.Message
	outputs []*protocol.Message
	idle    bool
	err     error

	done chan struct{}
	once sync.Once
}

func (c *call) finish() {
	c.once.Do(func() { close(c.done) })
}

func (c *call) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.finish()
}

// Request sends content on the shell or control channel and waits for the
// reply and the idle status it produces. onOutput, if set, sees each IOPub
// message as it arrives.
func (c *Client) Request(ctx context.Context, channel string, content protocol.Content, onOutput func(*protocol.Message)) (*Result, error) {
	var ch *transport.Channel
	switch channel {
	case transport.ChannelShell:
		ch = c.shell
	case transport.ChannelControl:
		ch = c.control
	default:
		return nil, fmt.Errorf("cannot send requests on %s", channel)
	}

	msg := c.session.Message(content)
	pending := &call{onOutput: onOutput, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[msg.Header.MsgID] = pending
	c.mu.Unlock()
	defer c.forget(msg.Header.MsgID)

	if err := ch.Send(msg); err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Header.MsgType, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pending.done:
	}

	pending.mu.Lock()
	defer pending.mu.Unlock()
	if pending.err != nil {
		return nil, pending.err
	}
	return &Result{Reply: pending.reply, Outputs: pending.outputs}, nil
}

func (c *Client) forget(msgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, msgID)
}

func (c *Client) lookup(parent *protocol.Header) *call {
	if parent == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[parent.MsgID]
}

func (c *Client) handleReply(_ context.Context, msg *protocol.Message) {
	pending := c.lookup(msg.ParentHeader)
	if pending == nil {
		c.log.Debug("Reply for unknown request", "msg_type", msg.Header.MsgType)
		return
	}

	pending.mu.Lock()
	pending.reply = msg
	complete := pending.idle
	pending.mu.Unlock()
	if complete {
		pending.finish()
	}
}

func (c *Client) handleIOPub(_ context.Context, msg *protocol.Message) {
	pending := c.lookup(msg.ParentHeader)
	if pending == nil {
		if c.onIOPub != nil {
			c.onIOPub(msg)
		}
		return
	}

	if status, ok := msg.Content.(*protocol.Status); ok {
		if status.ExecutionState != protocol.StateIdle {
			return
		}
		pending.mu.Lock()
		pending.idle = true
		complete := pending.reply != nil
		pending.mu.Unlock()
		if complete {
			pending.finish()
		}
		return
	}

	pending.mu.Lock()
	pending.outputs = append(pending.outputs, msg)
	pending.mu.Unlock()
	if pending.onOutput != nil {
		pending.onOutput(msg)
	}
}

func (c *Client) handleInputRequest(ctx context.Context, msg *protocol.Message) {
	req, ok := msg.Content.(*protocol.InputRequest)
	if !ok {
		c.log.Warn("Unexpected message on stdin", "msg_type", msg.Header.MsgType)
		return
	}

	value := ""
	if c.input != nil {
		var err error
		if value, err = c.input(ctx, req.Prompt, req.Password); err != nil {
			c.log.Warn("Input callback failed", "error", err)
			value = ""
		}
	}
	if err := c.stdin.Send(c.session.Reply(msg, &protocol.InputReply{Value: value})); err != nil {
		c.log.Warn("Failed to send input reply", "error", err)
	}
}

// ExecuteOptions are the execute_request flags. Zero means store_history
// true and everything else false.
type ExecuteOptions struct {
	Silent          bool
	NoHistory       bool
	AllowStdin      bool
	StopOnError     bool
	UserExpressions map[string]string
	OnOutput        func(*protocol.Message)
}

// Execute runs code and returns the execute_reply with the cell's output.
func (c *Client) Execute(ctx context.Context, code string, opts ExecuteOptions) (*Result, error) {
	expressions := opts.UserExpressions
	if expressions == nil {
		expressions = map[string]string{}
	}
	return c.Request(ctx, transport.ChannelShell, &protocol.ExecuteRequest{
		Code:            code,
		Silent:          opts.Silent,
		StoreHistory:    !opts.NoHistory && !opts.Silent,
		UserExpressions: expressions,
		AllowStdin:      opts.AllowStdin,
		StopOnError:     opts.StopOnError,
	}, opts.OnOutput)
}

// KernelInfo asks the kernel to describe itself.
func (c *Client) KernelInfo(ctx context.Context) (*protocol.KernelInfoReply, error) {
	result, err := c.Request(ctx, transport.ChannelShell, &protocol.KernelInfoRequest{}, nil)
	if err != nil {
		return nil, err
	}
	return replyAs[*protocol.KernelInfoReply](result)
}

// Complete asks for completions at cursor.
func (c *Client) Complete(ctx context.Context, code string, cursor int) (*protocol.CompleteReply, error) {
	result, err := c.Request(ctx, transport.ChannelShell, &protocol.CompleteRequest{Code: code, CursorPos: cursor}, nil)
	if err != nil {
		return nil, err
	}
	return replyAs[*protocol.CompleteReply](result)
}

// IsComplete asks whether code is ready to execute.
func (c *Client) IsComplete(ctx context.Context, code string) (*protocol.IsCompleteReply, error) {
	result, err := c.Request(ctx, transport.ChannelShell, &protocol.IsCompleteRequest{Code: code}, nil)
	if err != nil {
		return nil, err
	}
	return replyAs[*protocol.IsCompleteReply](result)
}

// Interrupt cancels the running cell through the control channel.
func (c *Client) Interrupt(ctx context.Context) error {
	result, err := c.Request(ctx, transport.ChannelControl, &protocol.InterruptRequest{}, nil)
	if err != nil {
		return err
	}
	_, err = replyAs[*protocol.InterruptReply](result)
	return err
}

// Shutdown asks the kernel to stop.
func (c *Client) Shutdown(ctx context.Context, restart bool) error {
	result, err := c.Request(ctx, transport.ChannelControl, &protocol.ShutdownRequest{Restart: restart}, nil)
	if err != nil {
		return err
	}
	_, err = replyAs[*protocol.ShutdownReply](result)
	return err
}

// WaitReady repeats kernel_info_request until a reply and its idle status
// arrive, which also proves the IOPub subscription is live.
func (c *Client) WaitReady(ctx context.Context, attempt time.Duration) (*protocol.KernelInfoReply, error) {
	if attempt <= 0 {
		attempt = time.Second
	}
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, attempt)
		info, err := c.KernelInfo(attemptCtx)
		cancel()
		if err == nil {
			return info, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
}

// Ping sends one heartbeat and waits for the echo.
func (c *Client) Ping(ctx context.Context) error {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	payload := []byte(uuid.NewString())
	if err := c.sockets.Heartbeat.Send([][]byte{payload}); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}

	echo := make(chan error, 1)
	go func() {
		frames, err := c.sockets.Heartbeat.Recv()
		if err == nil && (len(frames) != 1 || string(frames[0]) != string(payload)) {
			err = errors.New("heartbeat echo mismatch")
		}
		echo <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-echo:
		return err
	}
}

// ReplyError is returned when a reply carries status "error".
type ReplyError struct {
	Reply *protocol.ErrorReply
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Reply.MsgType(), e.Reply.EName, e.Reply.EValue)
}

func replyAs[T protocol.Content](result *Result) (T, error) {
	var zero T
	if result.Reply == nil {
		return zero, errors.New("missing reply")
	}
	if errReply, ok := result.Reply.Content.(*protocol.ErrorReply); ok {
		return zero, &ReplyError{Reply: errReply}
	}
	reply, ok := result.Reply.Content.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected reply %s", result.Reply.Header.MsgType)
	}
	return reply, nil
}
