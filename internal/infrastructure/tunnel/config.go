package tunnel

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/o2o/erpsync/internal/infrastructure/config"
)

// Config describes one forwarded port
type Config struct {
	SSHHost string
	SSHPort int
	SSHUser string

	Password             string
	PrivateKey           []byte
	PrivateKeyPassphrase string

	// Exactly one host key policy is used, checked in this order
	KnownHostsFile        string
	HostKey               ssh.PublicKey
	InsecureIgnoreHostKey bool

	RemoteHost string
	RemotePort int
	// LocalPort 0 picks a free port on 127.0.0.1
	LocalPort int

	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	DialRetries       int
}

// FromConfig builds a tunnel Config, reading key material from disk
func FromConfig(c config.TunnelConfig) (Config, error) {
	cfg := Config{
		SSHHost:               c.SSHHost,
		SSHPort:               c.SSHPort,
		SSHUser:               c.SSHUser,
		Password:              c.SSHPassword,
		PrivateKeyPassphrase:  c.PrivateKeyPassphrase,
		KnownHostsFile:        c.KnownHostsFile,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		RemoteHost:            c.RemoteHost,
		RemotePort:            c.RemotePort,
		LocalPort:             c.LocalPort,
		DialTimeout:           c.DialTimeout,
		KeepaliveInterval:     c.KeepaliveInterval,
		DialRetries:           c.DialRetries,
	}
	if c.PrivateKeyFile != "" {
		key, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read private key: %w", err)
		}
		cfg.PrivateKey = key
	}
	if c.HostKey != "" {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.HostKey))
		if err != nil {
			return Config{}, fmt.Errorf("parse host key: %w", err)
		}
		cfg.HostKey = key
	}
	return cfg, nil
}

// SSHAddr returns host:port of the SSH server
func (c Config) SSHAddr() string {
	return net.JoinHostPort(c.SSHHost, strconv.Itoa(c.SSHPort))
}

// RemoteAddr returns host:port of the forwarded service, as seen by the SSH server
func (c Config) RemoteAddr() string {
	return net.JoinHostPort(c.RemoteHost, strconv.Itoa(c.RemotePort))
}

func (c Config) validate() error {
	var missing []string
	if c.SSHHost == "" {
		missing = append(missing, "ssh host")
	}
	if c.SSHUser == "" {
		missing = append(missing, "ssh user")
	}
	if c.RemoteHost == "" || c.RemotePort == 0 {
		missing = append(missing, "remote address")
	}
	if c.Password == "" && len(c.PrivateKey) == 0 {
		missing = append(missing, "password or private key")
	}
	if c.KnownHostsFile == "" && c.HostKey == nil && !c.InsecureIgnoreHostKey {
		missing = append(missing, "host key policy")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if len(c.PrivateKey) > 0 {
		var (
			signer ssh.Signer
			err    error
		)
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(c.PrivateKey, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(c.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: private key: %v", ErrInvalidConfig, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}

	var hostKey ssh.HostKeyCallback
	switch {
	case c.KnownHostsFile != "":
		cb, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: known_hosts: %v", ErrInvalidConfig, err)
		}
		hostKey = cb
	case c.HostKey != nil:
		hostKey = ssh.FixedHostKey(c.HostKey)
	default:
		hostKey = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.SSHUser,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, nil
}
