package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"gokernel/pkg/config"
)

// Channel names.
const (
	ChannelShell     = "shell"
	ChannelControl   = "control"
	ChannelIOPub     = "iopub"
	ChannelStdin     = "stdin"
	ChannelHeartbeat = "heartbeat"
)

type zmqSocket struct {
	sock zmq4.Socket
}

// Wrap adapts a zmq4 socket.
func Wrap(sock zmq4.Socket) Socket {
	return zmqSocket{sock: sock}
}

func (s zmqSocket) Send(frames [][]byte) error {
	if len(frames) == 1 {
		return s.sock.Send(zmq4.NewMsg(frames[0]))
	}
	return s.sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s zmqSocket) Recv() ([][]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s zmqSocket) Close() error {
	return s.sock.Close()
}

// Sockets holds the five bound kernel sockets.
type Sockets struct {
	Shell     Socket
	Control   Socket
	Stdin     Socket
	IOPub     Socket
	Heartbeat Socket
}

// Close closes every socket and joins the errors.
func (s *Sockets) Close() error {
	var errs []error
	for _, sock := range []Socket{s.Shell, s.Control, s.Stdin, s.IOPub, s.Heartbeat} {
		if sock != nil {
			errs = append(errs, sock.Close())
		}
	}
	return errors.Join(errs...)
}

// Bind listens on the endpoints in info: ROUTER for shell, control and stdin,
// PUB for iopub and REP for heartbeat. Nothing stays bound on failure.
func Bind(ctx context.Context, info *config.ConnectionInfo) (*Sockets, error) {
	if info == nil {
		return nil, errors.New("connection info is required")
	}

	out := &Sockets{}
	bind := func(name string, port int, sock zmq4.Socket) (Socket, error) {
		endpoint, err := info.Endpoint(port)
		if err != nil {
			_ = sock.Close()
			return nil, err
		}
		if err := sock.Listen(endpoint); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("bind %s socket on %s: %w", name, endpoint, err)
		}
		return Wrap(sock), nil
	}

	var err error
	if out.Shell, err = bind(ChannelShell, info.ShellPort, zmq4.NewRouter(ctx)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.Control, err = bind(ChannelControl, info.ControlPort, zmq4.NewRouter(ctx)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.Stdin, err = bind(ChannelStdin, info.StdinPort, zmq4.NewRouter(ctx)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.IOPub, err = bind(ChannelIOPub, info.IOPubPort, zmq4.NewPub(ctx)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.Heartbeat, err = bind(ChannelHeartbeat, info.HBPort, zmq4.NewRep(ctx)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	return out, nil
}

// Connect dials the kernel endpoints as a frontend: DEALER sockets sharing
// identity for shell, control and stdin, SUB for iopub and REQ for heartbeat.
func Connect(ctx context.Context, info *config.ConnectionInfo, identity string) (*Sockets, error) {
	if info == nil {
		return nil, errors.New("connection info is required")
	}

	out := &Sockets{}
	dial := func(name string, port int, sock zmq4.Socket) (Socket, error) {
		endpoint, err := info.Endpoint(port)
		if err != nil {
			_ = sock.Close()
			return nil, err
		}
		if err := sock.Dial(endpoint); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("connect %s socket to %s: %w", name, endpoint, err)
		}
		return Wrap(sock), nil
	}
	id := zmq4.WithID(zmq4.SocketIdentity(identity))

	var err error
	if out.Shell, err = dial(ChannelShell, info.ShellPort, zmq4.NewDealer(ctx, id)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.Control, err = dial(ChannelControl, info.ControlPort, zmq4.NewDealer(ctx, id)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.Stdin, err = dial(ChannelStdin, info.StdinPort, zmq4.NewDealer(ctx, id)); err != nil {
		return nil, errors.Join(err, out.Close())
	}

	sub := zmq4.NewSub(ctx)
	if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		_ = sub.Close()
		return nil, errors.Join(fmt.Errorf("subscribe iopub: %w", err), out.Close())
	}
	if out.IOPub, err = dial(ChannelIOPub, info.IOPubPort, sub); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	if out.Heartbeat, err = dial(ChannelHeartbeat, info.HBPort, zmq4.NewReq(ctx)); err != nil {
		return nil, errors.Join(err, out.Close())
	}
	return out, nil
}
