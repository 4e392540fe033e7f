// Package comm implements the comm_open, comm_msg and comm_close channel
// between frontend widgets and kernel-side targets.
package comm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"gokernel/pkg/logger"
	"gokernel/pkg/protocol"
)

var (
	// ErrClosed is returned when sending on a closed comm.
	ErrClosed = errors.New("comm closed")
	// ErrUnknownComm is returned for messages addressed to no open comm.
	ErrUnknownComm = errors.New("unknown comm")
)

// Sender publishes comm messages on IOPub parented to the request being
// handled.
type Sender func(ctx context.Context, content protocol.Content) error

// Target accepts comms opened by the frontend. Returning an error rejects the
// comm and a comm_close is sent back.
type Target func(ctx context.Context, c *Comm, data map[string]any) error

// Comm is one open comm.
type Comm struct {
	ID         string
	TargetName string

	manager *Manager

	mu        sync.Mutex
	closed    bool
	onMessage func(ctx context.Context, data map[string]any)
	onClose   func(ctx context.Context, data map[string]any)
}

// OnMessage sets the handler for comm_msg from the frontend.
func (c *Comm) OnMessage(fn func(ctx context.Context, data map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnClose sets the handler run when the frontend closes the comm.
func (c *Comm) OnClose(fn func(ctx context.Context, data map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Send publishes a comm_msg through send.
func (c *Comm) Send(ctx context.Context, send Sender, data map[string]any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return send(ctx, &protocol.CommMsg{CommID: c.ID, Data: orEmpty(data)})
}

// Close publishes comm_close and forgets the comm.
func (c *Comm) Close(ctx context.Context, send Sender, data map[string]any) error {
	if !c.markClosed() {
		return ErrClosed
	}
	c.manager.forget(c.ID)
	return send(ctx, &protocol.CommClose{CommID: c.ID, Data: orEmpty(data)})
}

func (c *Comm) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

// Manager tracks registered targets and open comms.
type Manager struct {
	log *slog.Logger

	mu      sync.RWMutex
	targets map[string]Target
	comms   map[string]*Comm
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:     logger.OrDefault(log, "comm"),
		targets: make(map[string]Target),
		comms:   make(map[string]*Comm),
	}
}

// RegisterTarget makes name available to comm_open.
func (m *Manager) RegisterTarget(name string, target Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[name] = target
}

// UnregisterTarget removes name. Open comms stay open.
func (m *Manager) UnregisterTarget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, name)
}

// Open starts a kernel-initiated comm to targetName.
func (m *Manager) Open(ctx context.Context, send Sender, targetName string, data map[string]any) (*Comm, error) {
	c := &Comm{ID: uuid.NewString(), TargetName: targetName, manager: m}
	if err := send(ctx, &protocol.CommOpen{CommID: c.ID, TargetName: targetName, Data: orEmpty(data)}); err != nil {
		return nil, fmt.Errorf("open comm: %w", err)
	}
	m.track(c)
	return c, nil
}

// HandleOpen answers a frontend comm_open. Unknown targets and rejecting
// targets get a comm_close.
func (m *Manager) HandleOpen(ctx context.Context, send Sender, msg *protocol.CommOpen) error {
	m.mu.RLock()
	target, ok := m.targets[msg.TargetName]
	m.mu.RUnlock()

	if !ok {
		m.log.Warn("No such comm target", "target", msg.TargetName, "comm_id", msg.CommID)
		return send(ctx, &protocol.CommClose{CommID: msg.CommID, Data: map[string]any{}})
	}

	c := &Comm{ID: msg.CommID, TargetName: msg.TargetName, manager: m}
	m.track(c)

	if err := target(ctx, c, orEmpty(msg.Data)); err != nil {
		m.log.Warn("Comm target rejected open", "target", msg.TargetName, "comm_id", msg.CommID, "error", err)
		c.markClosed()
		m.forget(c.ID)
		return send(ctx, &protocol.CommClose{CommID: msg.CommID, Data: map[string]any{}})
	}
	return nil
}

// HandleMessage routes a frontend comm_msg.
func (m *Manager) HandleMessage(ctx context.Context, msg *protocol.CommMsg) error {
	c, ok := m.Get(msg.CommID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComm, msg.CommID)
	}

	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(ctx, orEmpty(msg.Data))
	}
	return nil
}

// HandleClose handles a frontend comm_close.
func (m *Manager) HandleClose(ctx context.Context, msg *protocol.CommClose) error {
	c, ok := m.Get(msg.CommID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComm, msg.CommID)
	}

	c.markClosed()
	m.forget(c.ID)

	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn(ctx, orEmpty(msg.Data))
	}
	return nil
}

// Get returns the open comm with id.
func (m *Manager) Get(id string) (*Comm, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comms[id]
	return c, ok
}

// Info lists open comms, optionally only those for targetName.
func (m *Manager) Info(targetName string) map[string]protocol.CommInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]protocol.CommInfo, len(m.comms))
	for id, c := range m.comms {
		if targetName != "" && c.TargetName != targetName {
			continue
		}
		out[id] = protocol.CommInfo{TargetName: c.TargetName}
	}
	return out
}

// Targets lists registered target names.
func (m *Manager) Targets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.targets))
	for name := range m.targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) track(c *Comm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comms[c.ID] = c
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.comms, id)
}

func orEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
