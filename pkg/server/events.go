package server

import (
	"log/slog"

	"gokernel/pkg/bus"
	"gokernel/pkg/metrics"
)

// observeEvents logs and counts events until the channel closes, which
// happens when the bus is closed.
func observeEvents(events <-chan bus.Event, log *slog.Logger, m *metrics.Metrics) {
	for event := range events {
		m.Observe(event)
		logEvent(log, event)
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"channel", event.Channel,
		"msg_type", event.MsgType,
		"msg_id", event.MsgID,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration", event.Duration)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventRequestFailed, bus.EventMessageRejected:
		log.Warn("Kernel event", append(attrs, "error", event.Error)...)
	case bus.EventExecuteFailed:
		log.Info("Kernel event", append(attrs, "error", event.Error)...)
	case bus.EventExecuteCompleted, bus.EventInterrupted, bus.EventShutdown:
		log.Info("Kernel event", attrs...)
	default:
		log.Debug("Kernel event", attrs...)
	}
}
