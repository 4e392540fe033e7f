package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gokernel/pkg/bus"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*protocol.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingPublisher) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, msg := range r.messages {
		if status, ok := msg.Content.(*protocol.Status); ok {
			out = append(out, status.ExecutionState)
		} else {
			out = append(out, msg.Header.MsgType)
		}
	}
	return out
}

type recordingReplier struct {
	mu      sync.Mutex
	replies []*protocol.Message
}

func (r *recordingReplier) Send(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, msg)
	return nil
}

type fakeStdin struct {
	parent *protocol.Message
	prompt string
}

func (f *fakeStdin) RequestInput(_ context.Context, parent *protocol.Message, prompt string, _ bool) (string, error) {
	f.parent = parent
	f.prompt = prompt
	return "typed", nil
}

func newRequest(content protocol.Content) *protocol.Message {
	msg := protocol.Session{ID: "frontend", Username: "user"}.Message(content)
	msg.Identities = [][]byte{[]byte("peer")}
	return msg
}

func newDispatcher(iopub Publisher, stdin InputRequester, events bus.EventSink) *Dispatcher {
	return New(Options{
		Session: protocol.Session{ID: "kernel", Username: "kernel"},
		IOPub:   iopub,
		Stdin:   stdin,
		Events:  events,
		Log:     logger.Discard(),
	})
}

func assertBracketed(t *testing.T, pub *recordingPublisher, req *protocol.Message) {
	t.Helper()
	pub.mu.Lock()
	defer pub.mu.Unlock()

	require.GreaterOrEqual(t, len(pub.messages), 2)
	first := pub.messages[0]
	last := pub.messages[len(pub.messages)-1]
	require.Equal(t, &protocol.Status{ExecutionState: protocol.StateBusy}, first.Content)
	require.Equal(t, &protocol.Status{ExecutionState: protocol.StateIdle}, last.Content)
	require.Equal(t, req.Header, *first.ParentHeader)
	require.Equal(t, req.Header, *last.ParentHeader)

	busy, idle := 0, 0
	for _, msg := range pub.messages {
		if status, ok := msg.Content.(*protocol.Status); ok {
			switch status.ExecutionState {
			case protocol.StateBusy:
				busy++
			case protocol.StateIdle:
				idle++
			}
		}
	}
	require.Equal(t, 1, busy)
	require.Equal(t, 1, idle)
}

func TestDispatchBusyReplyIdle(t *testing.T) {
	pub := &recordingPublisher{}
	rep := &recordingReplier{}
	d := newDispatcher(pub, nil, nil)

	d.Handle(protocol.MsgKernelInfoRequest, func(ctx context.Context, env *ReplyEnv) error {
		if err := env.Publish(ctx, &protocol.Stream{Name: "stdout", Text: "hello"}); err != nil {
			return err
		}
		return env.Reply(ctx, &protocol.KernelInfoReply{Status: protocol.StatusOK})
	})

	req := newRequest(&protocol.KernelInfoRequest{})
	d.Dispatch(context.Background(), "shell", rep, req)

	assertBracketed(t, pub, req)
	require.Equal(t, []string{protocol.StateBusy, protocol.MsgStream, protocol.StateIdle}, pub.states())

	require.Len(t, rep.replies, 1)
	reply := rep.replies[0]
	require.Equal(t, req.Header, *reply.ParentHeader)
	require.Equal(t, req.Identities, reply.Identities)
	require.Equal(t, protocol.MsgKernelInfoReply, reply.Header.MsgType)
	require.Equal(t, "kernel", reply.Header.Session)
}

func TestDispatchUnsupportedStillBracketed(t *testing.T) {
	pub := &recordingPublisher{}
	rep := &recordingReplier{}
	d := newDispatcher(pub, nil, nil)

	req := newRequest(&protocol.RawContent{Tag: "debug_request"})
	req.Header.MsgType = "debug_request"
	d.Dispatch(context.Background(), "control", rep, req)

	assertBracketed(t, pub, req)
	require.Empty(t, rep.replies)
}

func TestDispatchHandlerErrorSendsErrorReply(t *testing.T) {
	pub := &recordingPublisher{}
	rep := &recordingReplier{}
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	events, unsubscribe := mb.SubscribeEvents(context.Background(), 4)
	defer unsubscribe()

	d := newDispatcher(pub, nil, mb)
	d.Handle(protocol.MsgCompleteRequest, func(context.Context, *ReplyEnv) error {
		return errors.New("completion backend down")
	})

	req := newRequest(&protocol.CompleteRequest{Code: "ec", CursorPos: 2})
	d.Dispatch(context.Background(), "shell", rep, req)

	assertBracketed(t, pub, req)
	require.Len(t, rep.replies, 1)

	reply, ok := rep.replies[0].Content.(*protocol.ErrorReply)
	if !ok {
		t.Fatalf("reply content = %T, want *protocol.ErrorReply", rep.replies[0].Content)
	}
	require.Equal(t, protocol.MsgCompleteReply, reply.MsgType())
	require.Equal(t, protocol.StatusError, reply.Status)
	require.Equal(t, "KernelError", reply.EName)
	require.Equal(t, "completion backend down", reply.EValue)

	event := <-events
	require.Equal(t, bus.EventRequestFailed, event.Type)
	require.Equal(t, protocol.MsgCompleteRequest, event.MsgType)
}

func TestDispatchPanicIsRecovered(t *testing.T) {
	pub := &recordingPublisher{}
	rep := &recordingReplier{}
	d := newDispatcher(pub, nil, nil)
	d.Handle(protocol.MsgInspectRequest, func(context.Context, *ReplyEnv) error {
		panic("boom")
	})

	req := newRequest(&protocol.InspectRequest{})
	d.Dispatch(context.Background(), "shell", rep, req)

	assertBracketed(t, pub, req)
	require.Len(t, rep.replies, 1)
	require.Equal(t, "KernelPanic", rep.replies[0].Content.(*protocol.ErrorReply).EName)
}

func TestDispatchErrorAfterReplyKeepsFirstReply(t *testing.T) {
	pub := &recordingPublisher{}
	rep := &recordingReplier{}
	d := newDispatcher(pub, nil, nil)
	d.Handle(protocol.MsgShutdownRequest, func(ctx context.Context, env *ReplyEnv) error {
		if err := env.Reply(ctx, &protocol.ShutdownReply{Status: protocol.StatusOK}); err != nil {
			return err
		}
		if err := env.Reply(ctx, &protocol.ShutdownReply{Status: protocol.StatusOK}); !errors.Is(err, ErrAlreadyReplied) {
			t.Errorf("second reply error = %v, want ErrAlreadyReplied", err)
		}
		return errors.New("cleanup failed")
	})

	req := newRequest(&protocol.ShutdownRequest{})
	d.Dispatch(context.Background(), "control", rep, req)

	assertBracketed(t, pub, req)
	require.Len(t, rep.replies, 1)
	require.IsType(t, &protocol.ShutdownReply{}, rep.replies[0].Content)
}

type namedErr struct{}

func (namedErr) Error() string       { return "name 'x' is not defined" }
func (namedErr) ErrorName() string   { return "NameError" }
func (namedErr) Traceback() []string { return []string{"line 1"} }

func TestDispatchNamedError(t *testing.T) {
	pub := &recordingPublisher{}
	rep := &recordingReplier{}
	d := newDispatcher(pub, nil, nil)
	d.Handle(protocol.MsgExecuteRequest, func(context.Context, *ReplyEnv) error {
		return namedErr{}
	})

	d.Dispatch(context.Background(), "shell", rep, newRequest(&protocol.ExecuteRequest{}))

	reply := rep.replies[0].Content.(*protocol.ErrorReply)
	require.Equal(t, "NameError", reply.EName)
	require.Equal(t, []string{"line 1"}, reply.Traceback)
}

func TestReplyEnvInput(t *testing.T) {
	pub := &recordingPublisher{}
	stdin := &fakeStdin{}
	d := newDispatcher(pub, stdin, nil)

	var value string
	d.Handle(protocol.MsgExecuteRequest, func(ctx context.Context, env *ReplyEnv) error {
		var err error
		value, err = env.Input(ctx, "name: ", false)
		if err != nil {
			return err
		}
		return env.Reply(ctx, &protocol.ExecuteReply{Status: protocol.StatusOK})
	})

	req := newRequest(&protocol.ExecuteRequest{AllowStdin: true})
	d.Dispatch(context.Background(), "shell", &recordingReplier{}, req)

	require.Equal(t, "typed", value)
	require.Same(t, req, stdin.parent)
	require.Equal(t, "name: ", stdin.prompt)

	env := &ReplyEnv{Request: req}
	_, err := env.Input(context.Background(), "", false)
	require.ErrorIs(t, err, ErrNoStdin)
}
