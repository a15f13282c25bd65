package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/o2o/erpsync/internal/domain/shared"
)

var (
	// ErrInvalidConfig is returned for incomplete tunnel settings
	ErrInvalidConfig = shared.NewDomainError("TUNNEL_INVALID_CONFIG", "Invalid SSH tunnel configuration")
	// ErrTunnelUnavailable is returned when the SSH server cannot be reached or refuses us
	ErrTunnelUnavailable = shared.NewDomainError("TUNNEL_UNAVAILABLE", "SSH tunnel is unavailable")
	// ErrTunnelNotFound is returned for an unknown tunnel name
	ErrTunnelNotFound = shared.NewDomainError("TUNNEL_NOT_FOUND", "SSH tunnel not found")
	// ErrTunnelClosed is returned when using a closed tunnel
	ErrTunnelClosed = shared.NewDomainError("TUNNEL_CLOSED", "SSH tunnel is closed")
)

const keepaliveRequest = "keepalive@openssh.com"

// Tunnel forwards a local TCP port to a remote address through an SSH client.
// The local listener survives reconnects so addresses handed out stay valid.
type Tunnel struct {
	name     string
	cfg      Config
	listener net.Listener
	logger   *zap.Logger

	mu          sync.RWMutex
	client      *ssh.Client
	connectedAt time.Time
	reconnects  int
	lastErr     error
	closed      bool

	wg sync.WaitGroup
}

// Status is a point-in-time view of a tunnel
type Status struct {
	Name        string    `json:"name"`
	LocalAddr   string    `json:"local_addr"`
	RemoteAddr  string    `json:"remote_addr"`
	SSHAddr     string    `json:"ssh_addr"`
	Healthy     bool      `json:"healthy"`
	Error       string    `json:"error,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
	Reconnects  int       `json:"reconnects"`
}

func open(ctx context.Context, name string, cfg Config, l *zap.Logger) (*Tunnel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.LocalPort)))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("listen for tunnel %s: %w", name, err)
	}

	t := &Tunnel{
		name:        name,
		cfg:         cfg,
		listener:    ln,
		client:      client,
		connectedAt: time.Now(),
		logger:      l.With(zap.String("tunnel", name)),
	}
	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("SSH tunnel opened",
		zap.String("local_addr", ln.Addr().String()),
		zap.String("ssh_addr", cfg.SSHAddr()),
		zap.String("remote_addr", cfg.RemoteAddr()),
	)
	return t, nil
}

// dial connects to the SSH server with exponential backoff.
// Authentication and host key failures are not retried.
func dial(ctx context.Context, cfg Config) (*ssh.Client, error) {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var client *ssh.Client
	op := func() error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", cfg.SSHAddr())
		if err != nil {
			return err
		}
		_ = conn.SetDeadline(time.Now().Add(timeout))
		c, chans, reqs, err := ssh.NewClientConn(conn, cfg.SSHAddr(), clientCfg)
		if err != nil {
			_ = conn.Close()
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		_ = conn.SetDeadline(time.Time{})
		client = ssh.NewClient(c, chans, reqs)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	retries := uint64(max(cfg.DialRetries, 0))
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTunnelUnavailable, cfg.SSHAddr(), err)
	}
	return client, nil
}

func isPermanent(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "host key mismatch") ||
		strings.Contains(msg, "knownhosts:")
}

// Name returns the registry name
func (t *Tunnel) Name() string {
	return t.name
}

// LocalAddr returns the 127.0.0.1 address clients should connect to
func (t *Tunnel) LocalAddr() string {
	return t.listener.Addr().String()
}

// LocalPort returns the local listening port
func (t *Tunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

// Healthy sends an SSH keepalive and waits for the reply
func (t *Tunnel) Healthy(ctx context.Context) error {
	t.mu.RLock()
	client, closed := t.client, t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTunnelClosed
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest(keepaliveRequest, true, nil)
		done <- err
	}()
	select {
	case err := <-done:
		t.setLastErr(err)
		if err != nil {
			return fmt.Errorf("%w: keepalive: %v", ErrTunnelUnavailable, err)
		}
		return nil
	case <-ctx.Done():
		t.setLastErr(ctx.Err())
		return fmt.Errorf("%w: keepalive: %v", ErrTunnelUnavailable, ctx.Err())
	}
}

// Reconnect replaces the SSH client, keeping the local listener
func (t *Tunnel) Reconnect(ctx context.Context) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTunnelClosed
	}

	client, err := dial(ctx, t.cfg)
	if err != nil {
		t.setLastErr(err)
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = client.Close()
		return ErrTunnelClosed
	}
	old := t.client
	t.client = client
	t.connectedAt = time.Now()
	t.reconnects++
	t.lastErr = nil
	t.mu.Unlock()

	_ = old.Close()
	t.logger.Info("SSH tunnel reconnected", zap.Int("reconnects", t.reconnects))
	return nil
}

// Status reports the tunnel state without probing it
func (t *Tunnel) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Status{
		Name:        t.name,
		LocalAddr:   t.listener.Addr().String(),
		RemoteAddr:  t.cfg.RemoteAddr(),
		SSHAddr:     t.cfg.SSHAddr(),
		Healthy:     !t.closed && t.lastErr == nil,
		ConnectedAt: t.connectedAt,
		Reconnects:  t.reconnects,
	}
	if t.closed {
		s.Error = ErrTunnelClosed.Error()
	} else if t.lastErr != nil {
		s.Error = t.lastErr.Error()
	}
	return s
}

// Close stops accepting connections and closes the SSH client.
// Forwarded connections in flight are closed with it.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	client := t.client
	t.mu.Unlock()

	err := t.listener.Close()
	if cerr := client.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	t.wg.Wait()
	t.logger.Info("SSH tunnel closed")
	return err
}

func (t *Tunnel) setLastErr(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("Tunnel accept failed", zap.Error(err))
			continue
		}
		t.wg.Add(1)
		go t.forward(conn)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	remote, err := client.Dial("tcp", t.cfg.RemoteAddr())
	if err != nil {
		t.setLastErr(err)
		t.logger.Warn("Tunnel remote dial failed",
			zap.String("remote_addr", t.cfg.RemoteAddr()),
			zap.Error(err),
		)
		return
	}
	defer remote.Close()

	// Closing either side unblocks the other copy
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		_ = remote.Close()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		_ = local.Close()
		done <- struct{}{}
	}()
	<-done
	<-done
}
