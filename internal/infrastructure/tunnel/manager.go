// Package tunnel keeps SSH port forwards open to services that are only
// reachable through a bastion, such as the ProcureUAT MySQL server.
package tunnel

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager is a registry of named tunnels
type Manager struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
	logger  *zap.Logger
}

// NewManager creates an empty Manager
func NewManager(l *zap.Logger) *Manager {
	if l == nil {
		l = zap.NewNop()
	}
	return &Manager{
		tunnels: make(map[string]*Tunnel),
		logger:  l.Named("tunnel"),
	}
}

// Open returns the tunnel registered as name, opening it when absent.
// An existing tunnel that fails its health check is reconnected first.
func (m *Manager) Open(ctx context.Context, name string, cfg Config) (*Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tunnels[name]; ok {
		if err := t.Healthy(ctx); err == nil {
			return t, nil
		}
		if err := t.Reconnect(ctx); err != nil {
			return nil, err
		}
		return t, nil
	}

	t, err := open(ctx, name, cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.tunnels[name] = t
	return t, nil
}

// Get returns a registered tunnel
func (m *Manager) Get(name string) (*Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tunnels[name]
	if !ok {
		return nil, ErrTunnelNotFound
	}
	return t, nil
}

// Reconnect replaces the SSH connection of a registered tunnel
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	t, err := m.Get(name)
	if err != nil {
		return err
	}
	return t.Reconnect(ctx)
}

// HealthCheck probes every tunnel and returns their status sorted by name
func (m *Manager) HealthCheck(ctx context.Context) []Status {
	m.mu.Lock()
	list := make([]*Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		list = append(list, t)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, t := range list {
		_ = t.Healthy(ctx)
		out = append(out, t.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Keepalive probes every tunnel at interval and reconnects unhealthy ones
// until ctx is done.
func (m *Manager) Keepalive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range m.HealthCheck(ctx) {
				if s.Healthy {
					continue
				}
				m.logger.Warn("SSH tunnel unhealthy, reconnecting",
					zap.String("tunnel", s.Name),
					zap.String("error", s.Error),
				)
				if err := m.Reconnect(ctx, s.Name); err != nil {
					m.logger.Error("SSH tunnel reconnect failed",
						zap.String("tunnel", s.Name),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// Close closes and unregisters one tunnel
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	t, ok := m.tunnels[name]
	delete(m.tunnels, name)
	m.mu.Unlock()
	if !ok {
		return ErrTunnelNotFound
	}
	return t.Close()
}

// CloseAll closes every tunnel, returning the first error
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	tunnels := m.tunnels
	m.tunnels = make(map[string]*Tunnel)
	m.mu.Unlock()

	var first error
	for _, t := range tunnels {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
