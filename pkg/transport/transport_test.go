package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gokernel/pkg/bus"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

func newCodec(t *testing.T, key string) *protocol.Codec {
	t.Helper()
	codec, err := protocol.NewCodec("hmac-sha256", key)
	require.NoError(t, err)
	return codec
}

func encode(t *testing.T, codec *protocol.Codec, msg *protocol.Message) [][]byte {
	t.Helper()
	frames, err := codec.Encode(msg)
	require.NoError(t, err)
	return frames
}

func recvWithin(t *testing.T, sock Socket) [][]byte {
	t.Helper()
	type result struct {
		frames [][]byte
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		frames, err := sock.Recv()
		ch <- result{frames, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.frames
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frames")
		return nil
	}
}

func TestChannelServeSkipsRejectedMessages(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)
	events, unsubscribe := mb.SubscribeEvents(context.Background(), 8)
	defer unsubscribe()

	codec := newCodec(t, "secret")
	channel := NewChannel(ChannelShell, kernelSide, codec, mb, logger.Discard())

	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- channel.Serve(context.Background(), func(_ context.Context, msg *protocol.Message) {
			mu.Lock()
			got = append(got, msg.Header.MsgType)
			mu.Unlock()
		})
	}()

	session := protocol.Session{ID: "frontend"}
	forged := encode(t, newCodec(t, "other"), session.Message(&protocol.ExecuteRequest{Code: "rm -rf /"}))
	require.NoError(t, frontend.Send(forged))
	require.NoError(t, frontend.Send([][]byte{[]byte("no delimiter")}))
	require.NoError(t, frontend.Send(encode(t, codec, session.Message(&protocol.KernelInfoRequest{}))))

	reasons := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(reasons) < 2 {
		select {
		case event := <-events:
			if event.Type == bus.EventMessageRejected {
				reasons[event.Payload["reason"]] = true
			}
		case <-deadline:
			t.Fatalf("rejections = %v, want signature and delimiter", reasons)
		}
	}
	require.True(t, reasons["signature"])
	require.True(t, reasons["delimiter"])

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{protocol.MsgKernelInfoRequest}, got)

	require.NoError(t, frontend.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop after close")
	}
}

func TestChannelServeStampsReceiptOrderWhileHandling(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })

	codec := newCodec(t, "secret")
	channel := NewChannel(ChannelShell, kernelSide, codec, nil, logger.Discard())

	release := make(chan struct{})
	var mu sync.Mutex
	var order []uint64
	done := make(chan error, 1)
	go func() {
		done <- channel.Serve(context.Background(), func(_ context.Context, msg *protocol.Message) {
			mu.Lock()
			order = append(order, msg.Received)
			mu.Unlock()
			if msg.Received == 1 {
				<-release
			}
		})
	}()

	session := protocol.Session{ID: "frontend"}
	for i := 0; i < 3; i++ {
		require.NoError(t, frontend.Send(encode(t, codec, session.Message(&protocol.ExecuteRequest{Code: "x"}))))
	}

	// The first request is still being handled, yet all three are counted.
	require.Eventually(t, func() bool {
		return channel.LastReceived() == 3
	}, 2*time.Second, 10*time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{1, 2, 3}, order)

	require.NoError(t, frontend.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop after close")
	}
}

func TestChannelSendRoutesByIdentity(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })

	codec := newCodec(t, "")
	channel := NewChannel(ChannelShell, kernelSide, codec, nil, logger.Discard())

	session := protocol.Session{ID: "kernel"}
	request := session.Message(&protocol.KernelInfoRequest{})
	request.Identities = [][]byte{[]byte("client-7")}

	require.NoError(t, channel.Send(session.Reply(request, &protocol.KernelInfoReply{Status: protocol.StatusOK})))

	frames := recvWithin(t, frontend)
	require.Equal(t, "client-7", string(frames[0]))

	reply, err := codec.Decode(frames)
	require.NoError(t, err)
	require.Equal(t, request.Header, *reply.ParentHeader)
}

func TestStdinDeliversOnlyMatchingReply(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })

	codec := newCodec(t, "secret")
	kernelSession := protocol.NewSession("kernel")
	stdin := NewStdin(kernelSide, codec, kernelSession, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stdin.Run(ctx) }()

	frontendSession := protocol.NewSession("user")
	parent := frontendSession.Message(&protocol.ExecuteRequest{Code: "read x", AllowStdin: true})
	parent.Identities = [][]byte{[]byte("frontend-1")}

	result := make(chan string, 1)
	go func() {
		value, err := stdin.RequestInput(ctx, parent, "name? ", false)
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- value
	}()

	requestFrames := recvWithin(t, frontend)
	request, err := codec.Decode(requestFrames)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgInputRequest, request.Header.MsgType)
	require.Equal(t, parent.Header, *request.ParentHeader)
	require.Equal(t, "name? ", request.Content.(*protocol.InputRequest).Prompt)

	wrongIdentity := frontendSession.Reply(request, &protocol.InputReply{Value: "wrong identity"})
	wrongIdentity.Identities = [][]byte{[]byte("frontend-2")}

	stranger := frontendSession.Message(&protocol.InputRequest{})
	wrongParent := frontendSession.Reply(stranger, &protocol.InputReply{Value: "wrong parent"})
	wrongParent.Identities = [][]byte{[]byte("frontend-1")}

	right := frontendSession.Reply(request, &protocol.InputReply{Value: "ada"})

	for _, msg := range []*protocol.Message{wrongIdentity, wrongParent, right} {
		require.NoError(t, frontend.Send(encode(t, codec, msg)))
	}

	select {
	case value := <-result:
		require.Equal(t, "ada", value)
	case <-time.After(2 * time.Second):
		t.Fatal("input request did not complete")
	}
}

func TestStdinRequestHonoursContext(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })
	go func() {
		for {
			if _, err := frontend.Recv(); err != nil {
				return
			}
		}
	}()

	stdin := NewStdin(kernelSide, newCodec(t, ""), protocol.NewSession("kernel"), logger.Discard())
	go func() { _ = stdin.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	parent := protocol.NewSession("user").Message(&protocol.ExecuteRequest{})
	_, err := stdin.RequestInput(ctx, parent, "", true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHeartbeatEchoes(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })

	go func() { _ = NewHeartbeat(kernelSide).Run(context.Background()) }()

	require.NoError(t, frontend.Send([][]byte{[]byte("ping")}))
	require.Equal(t, [][]byte{[]byte("ping")}, recvWithin(t, frontend))
}

func TestIOPubWritesInOrderWithTopic(t *testing.T) {
	kernelSide, frontend := Pipe()
	t.Cleanup(func() { _ = kernelSide.Close() })

	codec := newCodec(t, "k")
	mb := bus.NewMessageBus()
	iopub := NewIOPub(kernelSide, codec, mb, logger.Discard())

	session := protocol.Session{ID: "kernel"}
	require.NoError(t, iopub.Publish(context.Background(), session.Message(&protocol.Status{ExecutionState: protocol.StateBusy})))
	require.NoError(t, iopub.Publish(context.Background(), session.Message(&protocol.Stream{Name: "stdout", Text: "hi"})))
	mb.Close()

	require.ErrorIs(t, iopub.Publish(context.Background(), session.Message(&protocol.Status{})), ErrClosed)
	require.NoError(t, iopub.Run(context.Background()))

	first, err := codec.Decode(recvWithin(t, frontend))
	require.NoError(t, err)
	require.Equal(t, "kernel.kernel.status", string(first.Identities[0]))

	second, err := codec.Decode(recvWithin(t, frontend))
	require.NoError(t, err)
	require.Equal(t, "kernel.kernel.stream.stdout", string(second.Identities[0]))
	require.Equal(t, &protocol.Stream{Name: "stdout", Text: "hi"}, second.Content)
}
