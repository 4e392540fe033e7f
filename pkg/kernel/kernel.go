// Package kernel implements the request handlers of a Jupyter kernel on top
// of an evaluator, the magic pipeline, comms and history.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gokernel/pkg/bus"
	"gokernel/pkg/comm"
	"gokernel/pkg/config"
	"gokernel/pkg/dispatch"
	"gokernel/pkg/display"
	"gokernel/pkg/eval"
	"gokernel/pkg/extension"
	"gokernel/pkg/history"
	"gokernel/pkg/logger"
	"gokernel/pkg/magic"
	"gokernel/pkg/protocol"
	"gokernel/pkg/workspace"
)

// Version is reported as implementation_version in kernel_info_reply.
const Version = "0.1.0"

// ErrStdinNotAllowed is returned to evaluators asking for input while running
// a request sent with allow_stdin false.
var ErrStdinNotAllowed = errors.New("stdin not allowed for this request")

// Options wires a Kernel. Config and Evaluator are required.
type Options struct {
	Config    *config.Config
	Evaluator eval.Evaluator
	Files     *workspace.Files
	// Extensions defaults to the process-wide registry.
	Extensions     *extension.Registry
	ExtensionNames []string
	// NewTranspiler builds the magic transpiler once the registry is known.
	// It defaults to an ExpandingTranspiler with Go string quoting.
	NewTranspiler func(*magic.Registry) magic.Transpiler
	Events        bus.EventSink
	// OnShutdown runs after shutdown_reply has been sent.
	OnShutdown func(restart bool)
	Log        *slog.Logger
}

// Kernel answers shell and control requests.
type Kernel struct {
	cfg        *config.Config
	evaluator  eval.Evaluator
	parser     *magic.Parser
	magics     *magic.Registry
	transpiler magic.Transpiler
	renderer   *display.Renderer
	comms      *comm.Manager
	history    *history.Memory
	events     bus.EventSink
	onShutdown func(restart bool)
	log        *slog.Logger

	slot slot

	countMu sync.Mutex
	count   int
	aborts  abortWindow

	shutdownOnce sync.Once
}

// New builds a kernel and loads its extensions.
func New(ctx context.Context, opts Options) (*Kernel, error) {
	if opts.Config == nil {
		return nil, errors.New("kernel: config is required")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("kernel: evaluator is required")
	}

	cfg := opts.Config
	parser, err := magic.NewParser(cfg.Magics.LinePrefix, cfg.Magics.CellPrefix, magic.Mode(cfg.Magics.Mode))
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	log := logger.OrDefault(opts.Log, "kernel")
	k := &Kernel{
		cfg:        cfg,
		evaluator:  opts.Evaluator,
		parser:     parser,
		renderer:   display.NewRenderer(),
		comms:      comm.NewManager(log),
		history:    history.NewMemory(),
		events:     opts.Events,
		onShutdown: opts.OnShutdown,
		log:        log,
	}

	registry := opts.Extensions
	if registry == nil {
		registry = extension.Default()
	}
	h := &host{kernel: k, magics: magic.NewRegistryBuilder(), files: opts.Files}
	if _, err := registry.LoadAll(ctx, h, opts.ExtensionNames); err != nil {
		return nil, err
	}
	if k.magics, err = h.magics.Build(); err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	if opts.NewTranspiler != nil {
		k.transpiler = opts.NewTranspiler(k.magics)
	} else {
		k.transpiler = magic.ExpandingTranspiler{Registry: k.magics}
	}

	log.Info("Kernel ready",
		"language", cfg.Kernel.Language.Name,
		"line_magics", len(k.magics.LineNames()),
		"cell_magics", len(k.magics.CellNames()),
	)
	return k, nil
}

// Register installs every request handler on d. The dispatcher serves them on
// shell and control alike; an execute_request on control waits in the same
// execution slot as shell cells.
func (k *Kernel) Register(d *dispatch.Dispatcher) {
	d.Handle(protocol.MsgKernelInfoRequest, k.kernelInfo)
	d.Handle(protocol.MsgExecuteRequest, k.execute)
	d.Handle(protocol.MsgInspectRequest, k.inspect)
	d.Handle(protocol.MsgCompleteRequest, k.complete)
	d.Handle(protocol.MsgIsCompleteRequest, k.isComplete)
	d.Handle(protocol.MsgHistoryRequest, k.historyRequest)
	d.Handle(protocol.MsgCommInfoRequest, k.commInfo)
	d.Handle(protocol.MsgCommOpen, k.commOpen)
	d.Handle(protocol.MsgCommMsg, k.commMsg)
	d.Handle(protocol.MsgCommClose, k.commClose)
	d.Handle(protocol.MsgShutdownRequest, k.shutdown)
	d.Handle(protocol.MsgInterruptRequest, k.interrupt)
}

func (k *Kernel) Magics() *magic.Registry     { return k.magics }
func (k *Kernel) Comms() *comm.Manager        { return k.comms }
func (k *Kernel) Renderer() *display.Renderer { return k.renderer }
func (k *Kernel) History() *history.Memory    { return k.history }
func (k *Kernel) Evaluator() eval.Evaluator   { return k.evaluator }

// ExecutionCount returns the count of the last non-silent execution.
func (k *Kernel) ExecutionCount() int {
	k.countMu.Lock()
	defer k.countMu.Unlock()
	return k.count
}

// Close interrupts any running cell and releases the evaluator.
func (k *Kernel) Close() error {
	k.slot.interrupt()
	return k.evaluator.Close()
}

func (k *Kernel) kernelInfo(ctx context.Context, env *dispatch.ReplyEnv) error {
	lang := k.cfg.Kernel.Language
	return env.Reply(ctx, &protocol.KernelInfoReply{
		Status:                protocol.StatusOK,
		ProtocolVersion:       protocol.Version,
		Implementation:        k.cfg.Kernel.Name,
		ImplementationVersion: Version,
		LanguageInfo: protocol.LanguageInfo{
			Name:          lang.Name,
			Version:       lang.Version,
			MIMEType:      lang.MIMEType,
			FileExtension: lang.FileExtension,
			PygmentsLexer: lang.PygmentsLexer,
		},
		Banner: k.cfg.Kernel.Banner,
	})
}

func (k *Kernel) inspect(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.InspectRequest)
	if !ok {
		return contentError(env.Request)
	}

	reply := &protocol.InspectReply{Status: protocol.StatusOK, Data: protocol.MIMEBundle{}, Metadata: map[string]any{}}
	if inspector, ok := k.evaluator.(eval.Inspector); ok {
		result, err := inspector.Inspect(ctx, req.Code, req.CursorPos, req.DetailLevel)
		if err != nil {
			return eval.AsError(err)
		}
		if result.Found {
			data, err := k.renderer.Render(result.Value)
			if err != nil {
				return err
			}
			reply.Found = true
			reply.Data = data.Data
			reply.Metadata = data.Metadata
		}
	}
	return env.Reply(ctx, reply)
}

func (k *Kernel) complete(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.CompleteRequest)
	if !ok {
		return contentError(env.Request)
	}

	if completion, ok := k.completeMagic(req.Code, req.CursorPos); ok {
		return env.Reply(ctx, completionReply(completion))
	}

	completion, err := k.evaluator.Complete(ctx, req.Code, req.CursorPos)
	if err != nil {
		return eval.AsError(err)
	}
	return env.Reply(ctx, completionReply(completion))
}

// completeMagic completes magic names when the cursor sits in a word that
// starts with a magic prefix at the start of its line.
func (k *Kernel) completeMagic(code string, cursor int) (eval.Completion, bool) {
	if cursor < 0 || cursor > len(code) {
		cursor = len(code)
	}
	lineStart := strings.LastIndexByte(code[:cursor], '\n') + 1
	word := strings.TrimLeft(code[lineStart:cursor], " \t")
	if strings.ContainsAny(word, " \t") {
		return eval.Completion{}, false
	}
	start := cursor - len(word)

	prefix, names := "", []string(nil)
	switch {
	case k.cfg.Magics.CellPrefix != "" && lineStart == 0 && strings.HasPrefix(word, k.cfg.Magics.CellPrefix):
		prefix, names = k.cfg.Magics.CellPrefix, k.magics.CellNames()
	case strings.HasPrefix(word, k.cfg.Magics.LinePrefix):
		prefix, names = k.cfg.Magics.LinePrefix, k.magics.LineNames()
	default:
		return eval.Completion{}, false
	}

	partial := strings.TrimPrefix(word, prefix)
	matches := []string{}
	for _, name := range names {
		if strings.HasPrefix(name, partial) {
			matches = append(matches, prefix+name)
		}
	}
	return eval.Completion{Matches: matches, CursorStart: start, CursorEnd: cursor, Metadata: map[string]any{}}, true
}

func completionReply(c eval.Completion) *protocol.CompleteReply {
	matches := c.Matches
	if matches == nil {
		matches = []string{}
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &protocol.CompleteReply{
		Status:      protocol.StatusOK,
		Matches:     matches,
		CursorStart: c.CursorStart,
		CursorEnd:   c.CursorEnd,
		Metadata:    metadata,
	}
}

func (k *Kernel) isComplete(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.IsCompleteRequest)
	if !ok {
		return contentError(env.Request)
	}

	if _, ok := k.parser.ParseCell(req.Code); ok {
		return env.Reply(ctx, &protocol.IsCompleteReply{Status: eval.Complete})
	}

	verdict, err := k.evaluator.IsComplete(ctx, req.Code)
	if err != nil {
		k.log.Warn("is_complete failed", "error", err)
		return env.Reply(ctx, &protocol.IsCompleteReply{Status: eval.Unknown})
	}
	reply := &protocol.IsCompleteReply{Status: verdict.Status}
	if verdict.Status == eval.Incomplete {
		reply.Indent = verdict.Indent
	}
	return env.Reply(ctx, reply)
}

func (k *Kernel) historyRequest(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.HistoryRequest)
	if !ok {
		return contentError(env.Request)
	}

	entries, err := k.history.Query(req)
	if err != nil {
		return err
	}
	return env.Reply(ctx, &protocol.HistoryReply{Status: protocol.StatusOK, History: entries})
}

func (k *Kernel) commInfo(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.CommInfoRequest)
	if !ok {
		return contentError(env.Request)
	}
	return env.Reply(ctx, &protocol.CommInfoReply{Status: protocol.StatusOK, Comms: k.comms.Info(req.TargetName)})
}

func (k *Kernel) commOpen(ctx context.Context, env *dispatch.ReplyEnv) error {
	msg, ok := env.Request.Content.(*protocol.CommOpen)
	if !ok {
		return contentError(env.Request)
	}
	return k.comms.HandleOpen(ctx, env.Publish, msg)
}

func (k *Kernel) commMsg(ctx context.Context, env *dispatch.ReplyEnv) error {
	msg, ok := env.Request.Content.(*protocol.CommMsg)
	if !ok {
		return contentError(env.Request)
	}
	return k.comms.HandleMessage(ctx, msg)
}

func (k *Kernel) commClose(ctx context.Context, env *dispatch.ReplyEnv) error {
	msg, ok := env.Request.Content.(*protocol.CommClose)
	if !ok {
		return contentError(env.Request)
	}
	return k.comms.HandleClose(ctx, msg)
}

func (k *Kernel) shutdown(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.ShutdownRequest)
	if !ok {
		return contentError(env.Request)
	}

	k.log.Info("Shutdown requested", "restart", req.Restart, "channel", env.Channel())
	k.slot.interrupt()

	err := env.Reply(ctx, &protocol.ShutdownReply{Status: protocol.StatusOK, Restart: req.Restart})
	k.publishEvent(ctx, bus.Event{Type: bus.EventShutdown, Channel: env.Channel(), Payload: map[string]string{"restart": fmt.Sprint(req.Restart)}})

	k.shutdownOnce.Do(func() {
		if k.onShutdown != nil {
			k.onShutdown(req.Restart)
		}
	})
	return err
}

func (k *Kernel) interrupt(ctx context.Context, env *dispatch.ReplyEnv) error {
	msgID, running := k.slot.interrupt()
	if err := k.evaluator.Interrupt(ctx); err != nil {
		k.log.Warn("Evaluator interrupt failed", "error", err)
	}
	if running {
		k.log.Info("Interrupted execution", "msg_id", msgID)
		k.publishEvent(ctx, bus.Event{Type: bus.EventInterrupted, Channel: env.Channel(), MsgID: msgID})
	}
	return env.Reply(ctx, &protocol.InterruptReply{Status: protocol.StatusOK})
}

func (k *Kernel) publishEvent(ctx context.Context, event bus.Event) {
	if k.events != nil {
		k.events.PublishEvent(ctx, event)
	}
}

func contentError(msg *protocol.Message) error {
	return fmt.Errorf("unexpected content %T for %s", msg.Content, msg.Header.MsgType)
}
