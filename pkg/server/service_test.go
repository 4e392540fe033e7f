package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gokernel/pkg/client"
	"gokernel/pkg/config"
	"gokernel/pkg/eval"
	"gokernel/pkg/extension"
	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
	"gokernel/pkg/transport"
)

// echoEvaluator prints each cell. A cell reading "ask" prompts for input.
type echoEvaluator struct{}

func (echoEvaluator) Eval(ctx context.Context, code string) (any, error) {
	if code == "ask" {
		answer, err := eval.Input(ctx, "who? ", false)
		if err != nil {
			return nil, err
		}
		code = "hello " + answer
	}
	_, err := fmt.Fprint(eval.Stdout(ctx), code)
	return nil, err
}

func (echoEvaluator) Interrupt(context.Context) error { return nil }

func (echoEvaluator) IsComplete(context.Context, string) (eval.Completeness, error) {
	return eval.Completeness{Status: eval.Complete}, nil
}

func (echoEvaluator) Complete(_ context.Context, _ string, cursor int) (eval.Completion, error) {
	return eval.Completion{CursorStart: cursor, CursorEnd: cursor}, nil
}

func (echoEvaluator) Close() error { return nil }

func pipeSockets() (*transport.Sockets, *transport.Sockets) {
	kernelSide, frontend := &transport.Sockets{}, &transport.Sockets{}
	kernelSide.Shell, frontend.Shell = transport.Pipe()
	kernelSide.Control, frontend.Control = transport.Pipe()
	kernelSide.Stdin, frontend.Stdin = transport.Pipe()
	kernelSide.IOPub, frontend.IOPub = transport.Pipe()
	kernelSide.Heartbeat, frontend.Heartbeat = transport.Pipe()
	return kernelSide, frontend
}

func testConnection() *config.ConnectionInfo {
	return &config.ConnectionInfo{
		Transport:       "tcp",
		IP:              "127.0.0.1",
		SignatureScheme: "hmac-sha256",
		Key:             "secret",
	}
}

type running struct {
	service *Service
	client  *client.Client
	done    chan error
}

func startPiped(t *testing.T) *running {
	t.Helper()

	kernelSide, frontend := pipeSockets()
	service, err := NewService(context.Background(), Options{
		Config:     config.Default(),
		Connection: testConnection(),
		Evaluator:  echoEvaluator{},
		Extensions: extension.NewRegistry(),
		Sockets:    kernelSide,
		Log:        logger.Discard(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- service.Run(context.Background()) }()

	c, err := client.New(frontend, "hmac-sha256", "secret", client.Options{
		Username: "tester",
		Input: func(context.Context, string, bool) (string, error) {
			return "world", nil
		},
		Log: logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &running{service: service, client: c, done: done}
}

func (r *running) shutdown(t *testing.T, restart bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.client.Shutdown(ctx, restart))

	select {
	case err := <-r.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop after shutdown_request")
	}
	require.Equal(t, restart, r.service.RestartRequested())
}

func TestServiceExecuteOverPipes(t *testing.T) {
	r := startPiped(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := r.client.KernelInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, protocol.Version, info.ProtocolVersion)

	result, err := r.client.Execute(ctx, "hi there", client.ExecuteOptions{})
	require.NoError(t, err)
	reply := result.Reply.Content.(*protocol.ExecuteReply)
	require.Equal(t, protocol.StatusOK, reply.Status)
	require.Equal(t, 1, reply.ExecutionCount)

	var types []string
	for _, out := range result.Outputs {
		types = append(types, out.Header.MsgType)
	}
	require.Equal(t, []string{protocol.MsgExecuteInput, protocol.MsgStream}, types)
	require.Equal(t, "hi there", result.Outputs[1].Content.(*protocol.Stream).Text)

	result, err = r.client.Execute(ctx, "ask", client.ExecuteOptions{AllowStdin: true})
	require.NoError(t, err)
	require.Equal(t, "hello world", result.Outputs[1].Content.(*protocol.Stream).Text)

	require.NoError(t, r.client.Ping(ctx))
	require.NoError(t, r.client.Interrupt(ctx))

	r.shutdown(t, true)
}

func TestServiceStatusEndpoints(t *testing.T) {
	r := startPiped(t)
	handler := r.service.statusHandler()

	get := func(path string) (int, string) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		body, _ := io.ReadAll(rec.Body)
		return rec.Code, string(body)
	}

	code, body := get("/healthz")
	require.Equal(t, http.StatusOK, code)
	var status statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.Equal(t, "ok", status.Status)

	require.Eventually(t, func() bool {
		code, _ := get("/readyz")
		return code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.client.Execute(ctx, "x", client.ExecuteOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, body := get("/metrics")
		return strings.Contains(body, `gokernel_executions_total{status="ok"} 1`)
	}, 2*time.Second, 10*time.Millisecond)

	r.shutdown(t, false)

	code, body = get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.Equal(t, "not_ready", status.Status)
	require.Equal(t, 1, status.ExecutionCount)
}

func TestServiceStopsWithContext(t *testing.T) {
	kernelSide, _ := pipeSockets()
	service, err := NewService(context.Background(), Options{
		Config:     config.Default(),
		Connection: testConnection(),
		Evaluator:  echoEvaluator{},
		Extensions: extension.NewRegistry(),
		Sockets:    kernelSide,
		Log:        logger.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop on cancel")
	}
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(context.Background(), Options{Connection: testConnection(), Evaluator: echoEvaluator{}})
	require.Error(t, err)

	_, err = NewService(context.Background(), Options{Config: config.Default(), Evaluator: echoEvaluator{}})
	require.Error(t, err)

	_, err = NewService(context.Background(), Options{Config: config.Default(), Connection: testConnection()})
	require.Error(t, err)

	conn := testConnection()
	conn.SignatureScheme = "hmac-md5"
	kernelSide, _ := pipeSockets()
	_, err = NewService(context.Background(), Options{Config: config.Default(), Connection: conn, Evaluator: echoEvaluator{}, Sockets: kernelSide})
	require.Error(t, err)
}
