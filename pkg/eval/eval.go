// Package eval defines the contract between the kernel and the code
// evaluator that runs cells.
package eval

import "context"

// Completeness verdicts returned by IsComplete.
const (
	Complete   = "complete"
	Incomplete = "incomplete"
	Invalid    = "invalid"
	Unknown    = "unknown"
)

// Evaluator runs cells. Eval may return a value for the execute_result; a nil
// value publishes nothing. Output produced while running is written through
// the writers carried by ctx.
type Evaluator interface {
	Eval(ctx context.Context, code string) (any, error)
	// Interrupt stops whatever Eval is currently running. It must not block
	// on the running cell.
	Interrupt(ctx context.Context) error
	IsComplete(ctx context.Context, code string) (Completeness, error)
	Complete(ctx context.Context, code string, cursor int) (Completion, error)
	Close() error
}

// Inspector is implemented by evaluators that can describe the object under
// the cursor.
type Inspector interface {
	Inspect(ctx context.Context, code string, cursor int, detail int) (Inspection, error)
}

// Completeness is the is_complete verdict. Indent is only meaningful for
// Incomplete.
type Completeness struct {
	Status string
	Indent string
}

// Completion lists candidates replacing code[CursorStart:CursorEnd].
type Completion struct {
	Matches     []string
	CursorStart int
	CursorEnd   int
	Metadata    map[string]any
}

// Inspection carries the value to render for an inspect reply.
type Inspection struct {
	Found bool
	Value any
}
