package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gokernel/pkg/client"
	"gokernel/pkg/config"
	"gokernel/pkg/extension"
	"gokernel/pkg/logger"
	"gokernel/pkg/magic/builtin"
	"gokernel/pkg/protocol"
)

func TestServiceRunE2EOverZeroMQ(t *testing.T) {
	if testing.Short() {
		t.Skip("binds loopback ZeroMQ sockets")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &config.ConnectionInfo{
		Transport:       "tcp",
		IP:              "127.0.0.1",
		ShellPort:       freeTCPPort(t),
		IOPubPort:       freeTCPPort(t),
		StdinPort:       freeTCPPort(t),
		ControlPort:     freeTCPPort(t),
		HBPort:          freeTCPPort(t),
		SignatureScheme: "hmac-sha256",
		Key:             "e2e-key",
	}
	cfg := config.Default()
	cfg.Status.Port = freeTCPPort(t)

	extensions := extension.NewRegistry()
	require.NoError(t, builtin.Register(extensions))

	service, err := NewService(ctx, Options{
		Config:         cfg,
		Connection:     conn,
		Evaluator:      echoEvaluator{},
		Extensions:     extensions,
		ExtensionNames: []string{builtin.Name},
		Log:            logger.Discard(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	c, err := client.Connect(ctx, conn, client.Options{Log: logger.Discard()})
	require.NoError(t, err)
	defer c.Close()

	readyCtx, readyCancel := context.WithTimeout(ctx, 10*time.Second)
	defer readyCancel()
	info, err := c.WaitReady(readyCtx, 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "gokernel", info.Implementation)

	execCtx, execCancel := context.WithTimeout(ctx, 5*time.Second)
	defer execCancel()
	result, err := c.Execute(execCtx, "%lsmagic", client.ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusOK, result.Reply.Content.(*protocol.ExecuteReply).Status)
	require.Len(t, result.Outputs, 2)
	require.Contains(t, result.Outputs[1].Content.(*protocol.Stream).Text, "%lsmagic")

	readyURL := "http://127.0.0.1:" + strconv.Itoa(cfg.Status.Port) + "/readyz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(readyURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, c.Shutdown(execCtx, false))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
