package kernel

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"gokernel/pkg/bus"
	"gokernel/pkg/dispatch"
	"gokernel/pkg/display"
	"gokernel/pkg/eval"
	"gokernel/pkg/mime"
	"gokernel/pkg/protocol"
)

// execute runs one cell: execute_input, magic expansion, evaluation, then
// execute_result or error, then the reply.
func (k *Kernel) execute(ctx context.Context, env *dispatch.ReplyEnv) error {
	req, ok := env.Request.Content.(*protocol.ExecuteRequest)
	if !ok {
		return contentError(env.Request)
	}

	if k.aborted(env) {
		k.log.Info("Aborting execute queued before failure", "msg_id", env.Request.Header.MsgID)
		return env.Reply(ctx, &protocol.ExecuteReply{Status: protocol.StatusAborted, ExecutionCount: k.ExecutionCount()})
	}

	count := k.nextCount(req.Silent)
	if !req.Silent {
		if err := env.Publish(ctx, &protocol.ExecuteInput{Code: req.Code, ExecutionCount: count}); err != nil {
			return err
		}
	}

	start := time.Now()
	k.publishEvent(ctx, bus.Event{Type: bus.EventExecuteStarted, Channel: env.Channel(), MsgID: env.Request.Header.MsgID})

	runCtx := eval.WithIO(ctx, k.cellIO(ctx, env, req))
	var transformed string
	var expressions map[string]any
	value, err := k.slot.run(runCtx, env.Request.Header.MsgID, func(ctx context.Context) (any, error) {
		code, err := k.parser.Transform(ctx, req.Code, k.transpiler)
		if err != nil {
			return nil, err
		}
		transformed = code

		var value any
		if strings.TrimSpace(code) != "" {
			if value, err = k.evaluator.Eval(ctx, code); err != nil {
				return nil, err
			}
		}
		expressions = k.userExpressions(ctx, req.UserExpressions)
		return value, nil
	})

	if req.StoreHistory {
		k.history.Record(count, req.Code, transformed)
	}

	if err != nil {
		return k.executeFailed(ctx, env, req, count, start, err)
	}

	if value != nil && !req.Silent {
		data, err := k.renderer.Render(value)
		if err != nil {
			return k.executeFailed(ctx, env, req, count, start, err)
		}
		if err := env.Publish(ctx, &protocol.ExecuteResult{ExecutionCount: count, Data: data.Data, Metadata: data.Metadata}); err != nil {
			return err
		}
		if text, ok := data.Data[mime.TextPlain].(string); ok && req.StoreHistory {
			k.history.SetOutput(count, text)
		}
	}

	k.publishEvent(ctx, bus.Event{
		Type:     bus.EventExecuteCompleted,
		Channel:  env.Channel(),
		MsgID:    env.Request.Header.MsgID,
		Duration: time.Since(start),
	})

	return env.Reply(ctx, &protocol.ExecuteReply{
		Status:          protocol.StatusOK,
		ExecutionCount:  count,
		UserExpressions: expressions,
		Payload:         []map[string]any{},
	})
}

func (k *Kernel) executeFailed(ctx context.Context, env *dispatch.ReplyEnv, req *protocol.ExecuteRequest, count int, start time.Time, err error) error {
	failure := eval.AsError(err)
	k.log.Info("Execution failed", "msg_id", env.Request.Header.MsgID, "ename", failure.Name, "evalue", failure.Value)

	if pubErr := env.Publish(ctx, &protocol.ErrorContent{
		EName:     failure.Name,
		EValue:    failure.Value,
		Traceback: failure.Traceback(),
	}); pubErr != nil {
		k.log.Error("Failed to publish error", "error", pubErr)
	}

	if req.StopOnError {
		k.abortQueued(env)
	}

	k.publishEvent(ctx, bus.Event{
		Type:     bus.EventExecuteFailed,
		Channel:  env.Channel(),
		MsgID:    env.Request.Header.MsgID,
		Duration: time.Since(start),
		Error:    failure.Error(),
	})

	reply := protocol.NewErrorReply(protocol.MsgExecuteReply, failure.Name, failure.Value, failure.Traceback())
	reply.ExecutionCount = count
	return env.Reply(ctx, reply)
}

// nextCount increments the execution counter unless the request is silent.
func (k *Kernel) nextCount(silent bool) int {
	k.countMu.Lock()
	defer k.countMu.Unlock()
	if !silent {
		k.count++
	}
	return k.count
}

// abortWindow covers the requests received on channel after the failing one
// and up to the failure itself.
type abortWindow struct {
	channel string
	after   uint64
	through uint64
}

func (w abortWindow) covers(channel string, received uint64) bool {
	return channel == w.channel && received > w.after && received <= w.through
}

// abortQueued aborts every request already received behind the failing one.
// Requests arriving after the failure run normally whatever their header date.
func (k *Kernel) abortQueued(env *dispatch.ReplyEnv) {
	k.countMu.Lock()
	defer k.countMu.Unlock()
	k.aborts = abortWindow{
		channel: env.Channel(),
		after:   env.Request.Received,
		through: env.LastReceived(),
	}
}

// aborted reports whether the request was queued behind a stop_on_error
// failure. Unstamped requests are never aborted.
func (k *Kernel) aborted(env *dispatch.ReplyEnv) bool {
	k.countMu.Lock()
	defer k.countMu.Unlock()
	return env.Request.Received != 0 && k.aborts.covers(env.Channel(), env.Request.Received)
}

// cellIO routes evaluator output to IOPub. Silent requests discard output.
func (k *Kernel) cellIO(ctx context.Context, env *dispatch.ReplyEnv, req *protocol.ExecuteRequest) eval.IO {
	io := eval.IO{
		Input: func(inputCtx context.Context, prompt string, password bool) (string, error) {
			if !req.AllowStdin {
				return "", ErrStdinNotAllowed
			}
			return env.Input(inputCtx, prompt, password)
		},
	}
	if req.Silent {
		return io
	}

	io.Stdout = &streamWriter{ctx: ctx, env: env, name: "stdout"}
	io.Stderr = &streamWriter{ctx: ctx, env: env, name: "stderr"}
	io.Display = func(_ context.Context, value any, mimeTypes ...string) error {
		return k.display(ctx, env, value, mimeTypes)
	}
	return io
}

// display publishes value as display_data, update_display_data or
// clear_output, negotiated against mimeTypes when any are given. ctx is the
// handler context so an interrupted cell can still flush what it produced.
func (k *Kernel) display(ctx context.Context, env *dispatch.ReplyEnv, value any, mimeTypes []string) error {
	switch v := value.(type) {
	case display.Clear:
		return env.Publish(ctx, &protocol.ClearOutput{Wait: v.Wait})
	case display.Update:
		data, err := k.renderer.RenderAs(v.Value, mimeTypes...)
		if err != nil {
			return err
		}
		data = data.WithID(v.ID)
		return env.Publish(ctx, &protocol.UpdateDisplayData{Data: data.Data, Metadata: data.Metadata, Transient: data.Transient})
	default:
		data, err := k.renderer.RenderAs(value, mimeTypes...)
		if err != nil {
			return err
		}
		return env.Publish(ctx, &protocol.DisplayData{Data: data.Data, Metadata: data.Metadata, Transient: data.Transient})
	}
}

// userExpressions evaluates each expression with output captured, never
// failing the execute reply itself. It runs inside the execution slot so the
// evaluator never sees two calls at once.
func (k *Kernel) userExpressions(ctx context.Context, expressions map[string]string) map[string]any {
	out := make(map[string]any, len(expressions))
	for name, expr := range expressions {
		var stdout bytes.Buffer
		exprCtx := eval.WithIO(ctx, eval.IO{Stdout: &stdout})

		value, err := k.evaluator.Eval(exprCtx, expr)
		if err != nil {
			failure := eval.AsError(err)
			out[name] = map[string]any{
				"status":    protocol.StatusError,
				"ename":     failure.Name,
				"evalue":    failure.Value,
				"traceback": failure.Traceback(),
			}
			continue
		}

		if value == nil {
			value = strings.TrimRight(stdout.String(), "\n")
		}
		data, err := k.renderer.Render(value)
		if err != nil {
			out[name] = map[string]any{"status": protocol.StatusError, "ename": "DisplayError", "evalue": err.Error(), "traceback": []string{}}
			continue
		}
		out[name] = map[string]any{"status": protocol.StatusOK, "data": data.Data, "metadata": data.Metadata}
	}
	return out
}

// streamWriter publishes each write as one stream message.
type streamWriter struct {
	ctx  context.Context
	env  *dispatch.ReplyEnv
	name string
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := w.env.Publish(w.ctx, &protocol.Stream{Name: w.name, Text: string(p)}); err != nil {
		return 0, fmt.Errorf("publish %s: %w", w.name, err)
	}
	return len(p), nil
}
