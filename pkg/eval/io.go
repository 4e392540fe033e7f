package eval

import (
	"context"
	"errors"
	"io"
)

// ErrNoInput is returned by Input when the request did not allow stdin.
var ErrNoInput = errors.New("input not available for this request")

type ioKey struct{}

// IO is the per-execution output surface handed to an evaluator.
type IO struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Display func(ctx context.Context, value any, mimeTypes ...string) error
	Input   func(ctx context.Context, prompt string, password bool) (string, error)
}

// WithIO returns a context carrying io.
func WithIO(ctx context.Context, io IO) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ioKey{}, io)
}

// IOFromContext returns the IO carried by ctx.
func IOFromContext(ctx context.Context) (IO, bool) {
	if ctx == nil {
		return IO{}, false
	}
	value, ok := ctx.Value(ioKey{}).(IO)
	return value, ok
}

// Stdout returns the writer for standard output, discarding when none is set.
func Stdout(ctx context.Context) io.Writer {
	if value, ok := IOFromContext(ctx); ok && value.Stdout != nil {
		return value.Stdout
	}
	return io.Discard
}

// Stderr returns the writer for standard error, discarding when none is set.
func Stderr(ctx context.Context) io.Writer {
	if value, ok := IOFromContext(ctx); ok && value.Stderr != nil {
		return value.Stderr
	}
	return io.Discard
}

// Display publishes value as display_data. Without a display sink it is a
// no-op.
func Display(ctx context.Context, value any) error {
	if io, ok := IOFromContext(ctx); ok && io.Display != nil {
		return io.Display(ctx, value)
	}
	return nil
}

// DisplayAs publishes value restricted to the representations mimeTypes
// accept, such as "image/*". text/plain is always kept.
func DisplayAs(ctx context.Context, value any, mimeTypes ...string) error {
	if io, ok := IOFromContext(ctx); ok && io.Display != nil {
		return io.Display(ctx, value, mimeTypes...)
	}
	return nil
}

// Input asks the frontend for one line.
func Input(ctx context.Context, prompt string, password bool) (string, error) {
	if io, ok := IOFromContext(ctx); ok && io.Input != nil {
		return io.Input(ctx, prompt, password)
	}
	return "", ErrNoInput
}
