// Package process implements an evaluator that feeds each cell to a fresh
// interpreter process on its standard input.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"gokernel/pkg/config"
	"gokernel/pkg/eval"
	"gokernel/pkg/logger"
)

const defaultWaitDelay = 500 * time.Millisecond

// Options configures an Evaluator.
type Options struct {
	// Command is the interpreter argv; the cell is written to its stdin.
	Command []string
	Dir     string
	Env     map[string]string
	// WaitDelay bounds how long output pipes are drained after the
	// interpreter is killed.
	WaitDelay time.Duration
	Log       *slog.Logger
}

// Evaluator runs one interpreter process per cell.
type Evaluator struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ eval.Evaluator = (*Evaluator)(nil)

func New(opts Options) (*Evaluator, error) {
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, errors.New("process evaluator: command is required")
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = defaultWaitDelay
	}
	opts.Command = slices.Clone(opts.Command)

	return &Evaluator{opts: opts, log: logger.OrDefault(opts.Log, "eval.process")}, nil
}

// FromConfig builds an Evaluator from the evaluator config section.
func FromConfig(cfg config.EvaluatorConfig, log *slog.Logger) (*Evaluator, error) {
	return New(Options{Command: cfg.Command, Dir: cfg.Dir, Env: cfg.Env, Log: log})
}

// Eval runs code to completion, streaming output to the writers in ctx.
// Interpreter processes produce no result value.
func (e *Evaluator) Eval(ctx context.Context, code string) (any, error) {
	runCtx, cancel := context.WithCancel(ctx)
	if !e.begin(cancel) {
		cancel()
		return nil, errors.New("process evaluator: a cell is already running")
	}
	defer e.end(cancel)

	cmd := exec.CommandContext(runCtx, e.opts.Command[0], e.opts.Command[1:]...)
	cmd.Dir = e.opts.Dir
	cmd.Env = e.environ()
	cmd.Stdin = strings.NewReader(code)
	cmd.Stdout = eval.Stdout(ctx)
	cmd.Stderr = eval.Stderr(ctx)
	cmd.WaitDelay = e.opts.WaitDelay

	start := time.Now()
	err := cmd.Run()
	e.log.Debug("Cell finished", "duration", time.Since(start), "error", err)

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, context.Canceled
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &eval.Error{Name: "ExitError", Value: fmt.Sprintf("exit status %d", exitErr.ExitCode())}
		}
		return nil, fmt.Errorf("run %s: %w", e.opts.Command[0], err)
	}
	return nil, nil
}

func (e *Evaluator) begin(cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return false
	}
	e.cancel = cancel
	return true
}

func (e *Evaluator) end(cancel context.CancelFunc) {
	cancel()
	e.mu.Lock()
	e.cancel = nil
	e.mu.Unlock()
}

// Interrupt kills the running interpreter, if any.
func (e *Evaluator) Interrupt(context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		e.log.Info("Interrupting running cell")
		cancel()
	}
	return nil
}

func (e *Evaluator) environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(e.opts.Env))
	for key := range e.opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+e.opts.Env[key])
	}
	return env
}

func (e *Evaluator) Close() error {
	return e.Interrupt(context.Background())
}
