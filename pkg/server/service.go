// Package server runs a kernel on its five sockets together with the IOPub
// writer, the event observer and the optional status HTTP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"gokernel/pkg/bus"
	"gokernel/pkg/config"
	"gokernel/pkg/dispatch"
	"gokernel/pkg/eval"
	"gokernel/pkg/extension"
	"gokernel/pkg/kernel"
	"gokernel/pkg/logger"
	"gokernel/pkg/magic"
	"gokernel/pkg/metrics"
	"gokernel/pkg/protocol"
	"gokernel/pkg/transport"
	"gokernel/pkg/workspace"
)

const defaultStatusHost = "127.0.0.1"

// Options wires a Service. Config, Connection and Evaluator are required.
type Options struct {
	Config         *config.Config
	Connection     *config.ConnectionInfo
	Evaluator      eval.Evaluator
	Files          *workspace.Files
	Extensions     *extension.Registry
	ExtensionNames []string
	NewTranspiler  func(*magic.Registry) magic.Transpiler
	// Sockets replaces binding the endpoints in Connection.
	Sockets *transport.Sockets
	Log     *slog.Logger
}

// Service owns the sockets and goroutines of one running kernel.
type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	kernel  *kernel.Kernel
	bus     *bus.MessageBus
	metrics *metrics.Metrics

	sockets    *transport.Sockets
	shell      *transport.Channel
	control    *transport.Channel
	stdin      *transport.Stdin
	iopub      *transport.IOPub
	heartbeat  *transport.Heartbeat
	dispatcher *dispatch.Dispatcher

	mu            sync.RWMutex
	startedAt     time.Time
	stop          context.CancelFunc
	restart       bool
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status         string                  `json:"status"`
	UptimeSeconds  int64                   `json:"uptime_seconds"`
	ExecutionCount int                     `json:"execution_count"`
	Channels       map[string]channelState `json:"channels"`
}

// NewService binds the sockets and builds the kernel. Failing to bind any
// socket is fatal.
func NewService(ctx context.Context, opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Connection == nil {
		return nil, errors.New("connection info is required")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	log := logger.OrDefault(opts.Log, "server")

	codec, err := protocol.NewCodec(opts.Connection.SignatureScheme, opts.Connection.Key)
	if err != nil {
		return nil, fmt.Errorf("initialize codec: %w", err)
	}

	sockets := opts.Sockets
	if sockets == nil {
		if sockets, err = transport.Bind(ctx, opts.Connection); err != nil {
			return nil, fmt.Errorf("bind kernel sockets: %w", err)
		}
	}

	session := protocol.NewSession(opts.Config.Kernel.Username)
	messageBus := bus.NewMessageBus()
	iopub := transport.NewIOPub(sockets.IOPub, codec, messageBus, opts.Log)
	stdin := transport.NewStdin(sockets.Stdin, codec, session, opts.Log)

	s := &Service{
		cfg:        opts.Config,
		log:        log,
		bus:        messageBus,
		metrics:    metrics.New(),
		sockets:    sockets,
		shell:      transport.NewChannel(transport.ChannelShell, sockets.Shell, codec, messageBus, opts.Log),
		control:    transport.NewChannel(transport.ChannelControl, sockets.Control, codec, messageBus, opts.Log),
		stdin:      stdin,
		iopub:      iopub,
		heartbeat:  transport.NewHeartbeat(sockets.Heartbeat),
		dispatcher: dispatch.New(dispatch.Options{Session: session, IOPub: iopub, Stdin: stdin, Events: messageBus, Log: opts.Log}),
		channelStates: map[string]channelState{
			transport.ChannelShell:     {},
			transport.ChannelControl:   {},
			transport.ChannelStdin:     {},
			transport.ChannelIOPub:     {},
			transport.ChannelHeartbeat: {},
		},
	}

	s.kernel, err = kernel.New(ctx, kernel.Options{
		Config:         opts.Config,
		Evaluator:      opts.Evaluator,
		Files:          opts.Files,
		Extensions:     opts.Extensions,
		ExtensionNames: opts.ExtensionNames,
		NewTranspiler:  opts.NewTranspiler,
		Events:         messageBus,
		OnShutdown:     s.requestStop,
		Log:            opts.Log,
	})
	if err != nil {
		messageBus.Close()
		return nil, errors.Join(fmt.Errorf("initialize kernel: %w", err), sockets.Close())
	}
	s.kernel.Register(s.dispatcher)

	log.Info("Kernel sockets ready",
		"transport", opts.Connection.Transport,
		"ip", opts.Connection.IP,
		"shell_port", opts.Connection.ShellPort,
		"iopub_port", opts.Connection.IOPubPort,
		"session", session.ID,
	)
	return s, nil
}

// Kernel returns the kernel served by s.
func (s *Service) Kernel() *kernel.Kernel {
	return s.kernel
}

// Metrics returns the collectors fed by the event observer.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// RestartRequested reports the restart flag of the shutdown_request that
// stopped the service.
func (s *Service) RestartRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restart
}

// Run serves until ctx is done, a shutdown_request arrives or a channel loop
// fails. Shutdown stops the request loops, drains IOPub and closes the
// sockets.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.stop = cancel
	s.mu.Unlock()

	events, unsubscribe := s.bus.SubscribeEvents(context.Background(), 256)
	defer unsubscribe()
	observerDone := make(chan struct{})
	go func() {
		defer close(observerDone)
		observeEvents(events, s.log.With("component", "bus.events"), s.metrics)
	}()

	writerDone := make(chan error, 1)
	s.setChannelState(transport.ChannelIOPub, channelState{Running: true})
	go func() {
		writerDone <- s.iopub.Run(context.Background())
	}()

	errCh := make(chan error, 4)
	var loops sync.WaitGroup
	start := func(name string, run func(context.Context) error) {
		loops.Add(1)
		s.setChannelState(name, channelState{Running: true})
		go func() {
			defer loops.Done()
			err := run(runCtx)
			s.setChannelState(name, channelState{Running: false, Error: errorString(err)})
			if err != nil {
				errCh <- fmt.Errorf("run %s channel: %w", name, err)
			}
		}()
	}
	start(transport.ChannelShell, func(ctx context.Context) error { return s.shell.Serve(ctx, s.handle(s.shell)) })
	start(transport.ChannelControl, func(ctx context.Context) error { return s.control.Serve(ctx, s.handle(s.control)) })
	start(transport.ChannelStdin, s.stdin.Run)
	start(transport.ChannelHeartbeat, s.heartbeat.Run)

	serverErrors := make(chan error, 1)
	if s.cfg.Status.Port > 0 {
		go s.runStatusServer(runCtx, serverErrors)
	}

	s.log.Info("Kernel started", "kernel", s.cfg.Kernel.Name)

	var runErr error
	select {
	case <-runCtx.Done():
	case runErr = <-serverErrors:
	case runErr = <-errCh:
	}
	cancel()

	s.log.Info("Kernel stopping")
	var closeErrs []error
	closeErrs = append(closeErrs, s.kernel.Close())
	for _, sock := range []transport.Socket{s.sockets.Shell, s.sockets.Control, s.sockets.Stdin, s.sockets.Heartbeat} {
		closeErrs = append(closeErrs, sock.Close())
	}
	loops.Wait()

	s.bus.Close()
	if err := <-writerDone; err != nil {
		closeErrs = append(closeErrs, err)
	}
	s.setChannelState(transport.ChannelIOPub, channelState{Running: false})
	closeErrs = append(closeErrs, s.sockets.IOPub.Close())
	<-observerDone

	if err := errors.Join(closeErrs...); err != nil {
		s.log.Warn("Errors while closing kernel", "error", err)
	}
	s.log.Info("Kernel stopped")
	return runErr
}

// handle dispatches on a context detached from shutdown so the idle status of
// the request that triggered it is still published.
func (s *Service) handle(ch *transport.Channel) transport.Handler {
	return func(ctx context.Context, msg *protocol.Message) {
		s.dispatcher.Dispatch(context.WithoutCancel(ctx), ch.Name(), ch, msg)
	}
}

func (s *Service) requestStop(restart bool) {
	s.mu.Lock()
	s.restart = restart
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *Service) runStatusServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Status.Host)
	if host == "" {
		host = defaultStatusHost
	}
	addr := host + ":" + strconv.Itoa(s.cfg.Status.Port)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.statusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Kernel status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:         status,
		UptimeSeconds:  uptime,
		ExecutionCount: s.kernel.ExecutionCount(),
		Channels:       channels,
	}
}

// isReady reports whether every channel loop is running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if !state.Running {
			return false
		}
	}
	return len(s.channelStates) > 0
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
