package server

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gokernel/pkg/bus"
	"gokernel/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLogEventLevels(t *testing.T) {
	recorder := &recordingHandler{}
	log := slog.New(recorder)

	tests := []struct {
		event bus.Event
		want  slog.Level
	}{
		{event: bus.Event{Type: bus.EventMessageReceived, MsgID: "1"}, want: slog.LevelDebug},
		{event: bus.Event{Type: bus.EventExecuteCompleted, MsgID: "2", Duration: time.Millisecond}, want: slog.LevelInfo},
		{event: bus.Event{Type: bus.EventExecuteFailed, MsgID: "3", Error: "boom"}, want: slog.LevelInfo},
		{event: bus.Event{Type: bus.EventRequestFailed, MsgID: "4", Error: "boom"}, want: slog.LevelWarn},
		{event: bus.Event{Type: bus.EventMessageRejected, Error: "bad signature"}, want: slog.LevelWarn},
	}

	for _, tt := range tests {
		logEvent(log, tt.event)
		if got := recorder.LastLevel(); got != tt.want {
			t.Fatalf("%s event level = %v, want %v", tt.event.Type, got, tt.want)
		}
	}
}

func TestObserveEventsFeedsMetricsUntilClosed(t *testing.T) {
	m := metrics.New()
	events := make(chan bus.Event, 2)
	events <- bus.Event{Type: bus.EventExecuteCompleted, Duration: time.Millisecond}
	events <- bus.Event{Type: bus.EventInterrupted}
	close(events)

	observeEvents(events, slog.New(&recordingHandler{}), m)

	count, err := testutil.GatherAndCount(m.Registry(), "gokernel_executions_total", "gokernel_interrupts_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("series = %d, want 2", count)
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(_ string) slog.Handler { return h }

func (h *recordingHandler) LastLevel() slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Level
}
