package transport

import (
	"context"
	"errors"
)

// Heartbeat echoes every frame set it receives.
type Heartbeat struct {
	sock Socket
}

func NewHeartbeat(sock Socket) *Heartbeat {
	return &Heartbeat{sock: sock}
}

func (h *Heartbeat) Run(ctx context.Context) error {
	for {
		frames, err := h.sock.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if err := h.sock.Send(frames); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
	}
}
