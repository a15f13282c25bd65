package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/o2o/erpsync/internal/infrastructure/config"
)

// testSSHServer is a minimal in-process SSH server supporting password auth
// and direct-tcpip forwarding.
type testSSHServer struct {
	ln      net.Listener
	signer  ssh.Signer
	mu      sync.Mutex
	clients []*ssh.ServerConn
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startSSHServer(t *testing.T, user, password string) *testSSHServer {
	t.Helper()
	srv := &testSSHServer{signer: newSigner(t)}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(srv.signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.ln = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn, cfg)
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		srv.dropClients()
	})
	return srv
}

func (s *testSSHServer) handle(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.clients = append(s.clients, sconn)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var p struct {
			DestAddr string
			DestPort uint32
			OrigAddr string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &p); err != nil {
			_ = newCh.Reject(ssh.Prohibited, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(p.DestAddr, strconv.Itoa(int(p.DestPort))))
		if err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, creqs, err := newCh.Accept()
		if err != nil {
			_ = target.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			defer ch.Close()
			defer target.Close()
			go func() { _, _ = io.Copy(target, ch) }()
			_, _ = io.Copy(ch, target)
		}()
	}
}

func (s *testSSHServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *testSSHServer) dropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		_ = c.Close()
	}
	s.clients = nil
}

// startEchoServer stands in for the database behind the bastion
func startEchoServer(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(srv *testSSHServer, remotePort int) Config {
	return Config{
		SSHHost:     "127.0.0.1",
		SSHPort:     srv.port(),
		SSHUser:     "tunnel",
		Password:    "s3cret",
		HostKey:     srv.signer.PublicKey(),
		RemoteHost:  "127.0.0.1",
		RemotePort:  remotePort,
		DialTimeout: 2 * time.Second,
	}
}

func roundTrip(t *testing.T, addr, msg string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

func TestManager_OpenForwardsTraffic(t *testing.T) {
	srv := startSSHServer(t, "tunnel", "s3cret")
	echo := startEchoServer(t)
	m := NewManager(zaptest.NewLogger(t))
	defer m.CloseAll()

	tun, err := m.Open(context.Background(), "procure", testConfig(srv, echo))
	require.NoError(t, err)

	roundTrip(t, tun.LocalAddr(), "SELECT 1")
	assert.NotZero(t, tun.LocalPort())

	again, err := m.Open(context.Background(), "procure", testConfig(srv, echo))
	require.NoError(t, err)
	assert.Same(t, tun, again)

	statuses := m.HealthCheck(context.Background())
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "procure", statuses[0].Name)
	assert.Equal(t, tun.LocalAddr(), statuses[0].LocalAddr)
}

func TestManager_KnownHostsFile(t *testing.T) {
	srv := startSSHServer(t, "tunnel", "s3cret")
	echo := startEchoServer(t)

	cfg := testConfig(srv, echo)
	line := knownhosts.Line([]string{knownhosts.Normalize(cfg.SSHAddr())}, srv.signer.PublicKey())
	path := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0o600))
	cfg.HostKey = nil
	cfg.KnownHostsFile = path

	m := NewManager(zaptest.NewLogger(t))
	defer m.CloseAll()
	tun, err := m.Open(context.Background(), "procure", cfg)
	require.NoError(t, err)
	roundTrip(t, tun.LocalAddr(), "hello")
}

func TestManager_AuthFailureIsNotRetried(t *testing.T) {
	srv := startSSHServer(t, "tunnel", "s3cret")
	cfg := testConfig(srv, startEchoServer(t))
	cfg.Password = "wrong"
	cfg.DialRetries = 5

	m := NewManager(zaptest.NewLogger(t))
	start := time.Now()
	_, err := m.Open(context.Background(), "procure", cfg)
	assert.ErrorIs(t, err, ErrTunnelUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = m.Get("procure")
	assert.ErrorIs(t, err, ErrTunnelNotFound)
}

func TestManager_HostKeyMismatch(t *testing.T) {
	srv := startSSHServer(t, "tunnel", "s3cret")
	cfg := testConfig(srv, startEchoServer(t))
	cfg.HostKey = newSigner(t).PublicKey()

	_, err := NewManager(zaptest.NewLogger(t)).Open(context.Background(), "procure", cfg)
	assert.ErrorIs(t, err, ErrTunnelUnavailable)
}

func TestManager_UnreachableServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := Config{
		SSHHost:               "127.0.0.1",
		SSHPort:               port,
		SSHUser:               "tunnel",
		Password:              "x",
		InsecureIgnoreHostKey: true,
		RemoteHost:            "127.0.0.1",
		RemotePort:            3306,
		DialTimeout:           500 * time.Millisecond,
	}
	_, err = NewManager(nil).Open(context.Background(), "procure", cfg)
	assert.ErrorIs(t, err, ErrTunnelUnavailable)
}

func TestTunnel_ReconnectKeepsLocalAddr(t *testing.T) {
	srv := startSSHServer(t, "tunnel", "s3cret")
	echo := startEchoServer(t)
	m := NewManager(zaptest.NewLogger(t))
	defer m.CloseAll()

	tun, err := m.Open(context.Background(), "procure", testConfig(srv, echo))
	require.NoError(t, err)
	addr := tun.LocalAddr()

	srv.dropClients()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		return tun.Healthy(ctx) != nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.False(t, tun.Status().Healthy)

	require.NoError(t, m.Reconnect(context.Background(), "procure"))
	require.NoError(t, tun.Healthy(context.Background()))
	assert.Equal(t, addr, tun.LocalAddr())
	assert.Equal(t, 1, tun.Status().Reconnects)
	roundTrip(t, addr, "after reconnect")
}

func TestManager_CloseAll(t *testing.T) {
	srv := startSSHServer(t, "tunnel", "s3cret")
	m := NewManager(zaptest.NewLogger(t))

	tun, err := m.Open(context.Background(), "procure", testConfig(srv, startEchoServer(t)))
	require.NoError(t, err)
	addr := tun.LocalAddr()

	require.NoError(t, m.CloseAll())
	_, err = m.Get("procure")
	assert.ErrorIs(t, err, ErrTunnelNotFound)
	assert.ErrorIs(t, tun.Healthy(context.Background()), ErrTunnelClosed)
	assert.ErrorIs(t, tun.Reconnect(context.Background()), ErrTunnelClosed)

	_, err = net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, err)
	assert.ErrorIs(t, m.Close("procure"), ErrTunnelNotFound)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		SSHHost:    "bastion",
		SSHUser:    "tunnel",
		Password:   "x",
		HostKey:    newSigner(t).PublicKey(),
		RemoteHost: "127.0.0.1",
		RemotePort: 3306,
	}
	require.NoError(t, valid.validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no host", func(c *Config) { c.SSHHost = "" }},
		{"no user", func(c *Config) { c.SSHUser = "" }},
		{"no credentials", func(c *Config) { c.Password = "" }},
		{"no remote", func(c *Config) { c.RemotePort = 0 }},
		{"no host key policy", func(c *Config) { c.HostKey = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorIs(t, c.validate(), ErrInvalidConfig)
		})
	}
}

func TestFromConfig(t *testing.T) {
	signer := newSigner(t)

	cfg, err := FromConfig(config.TunnelConfig{
		SSHHost:    "bastion",
		SSHPort:    2222,
		SSHUser:    "tunnel",
		HostKey:    string(ssh.MarshalAuthorizedKey(signer.PublicKey())),
		RemoteHost: "127.0.0.1",
		RemotePort: 3306,
	})
	require.NoError(t, err)
	assert.Equal(t, "bastion:2222", cfg.SSHAddr())
	assert.Equal(t, "127.0.0.1:3306", cfg.RemoteAddr())
	require.NotNil(t, cfg.HostKey)
	assert.Equal(t, signer.PublicKey().Marshal(), cfg.HostKey.Marshal())

	_, err = FromConfig(config.TunnelConfig{PrivateKeyFile: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = FromConfig(config.TunnelConfig{HostKey: "not a key"})
	assert.Error(t, err)
}
