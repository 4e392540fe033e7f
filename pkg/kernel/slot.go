package kernel

import (
	"context"
	"sync"
)

// slot serializes executions and lets another goroutine cancel the one
// currently running. runMu is held for the whole execution; cancelMu only
// guards the cancel func so interrupt never waits behind a running cell.
type slot struct {
	runMu sync.Mutex

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	msgID    string
}

func (s *slot) run(ctx context.Context, msgID string, fn func(ctx context.Context) (any, error)) (any, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cancelMu.Lock()
	s.cancel = cancel
	s.msgID = msgID
	s.cancelMu.Unlock()

	defer func() {
		s.cancelMu.Lock()
		s.cancel = nil
		s.msgID = ""
		s.cancelMu.Unlock()
	}()

	return fn(runCtx)
}

// interrupt cancels the running execution and reports its request id.
func (s *slot) interrupt() (string, bool) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	if s.cancel == nil {
		return "", false
	}
	s.cancel()
	return s.msgID, true
}
