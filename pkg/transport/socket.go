// Package transport moves framed messages over the five kernel channels.
package transport

import (
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned by operations on a closed socket or channel.
var ErrClosed = errors.New("transport closed")

// Socket is a multipart message socket. Recv blocks until a message arrives
// or the socket is closed.
type Socket interface {
	Send(frames [][]byte) error
	Recv() ([][]byte, error)
	Close() error
}

// Pipe returns two connected in-process sockets. Frames sent on one are
// received by the other, in order.
func Pipe() (Socket, Socket) {
	ab := make(chan [][]byte, 64)
	ba := make(chan [][]byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &pipeSocket{in: ba, out: ab, done: done, once: once}
	b := &pipeSocket{in: ab, out: ba, done: done, once: once}
	return a, b
}

type pipeSocket struct {
	in   chan [][]byte
	out  chan [][]byte
	done chan struct{}
	once *sync.Once
}

func (p *pipeSocket) Send(frames [][]byte) error {
	copied := make([][]byte, len(frames))
	for i, frame := range frames {
		copied[i] = slices.Clone(frame)
	}

	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case <-p.done:
		return ErrClosed
	case p.out <- copied:
		return nil
	}
}

// Recv delivers frames already sent before reporting ErrClosed.
func (p *pipeSocket) Recv() ([][]byte, error) {
	select {
	case frames := <-p.in:
		return frames, nil
	default:
	}

	select {
	case frames := <-p.in:
		return frames, nil
	case <-p.done:
		select {
		case frames := <-p.in:
			return frames, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Close closes both ends.
func (p *pipeSocket) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
