package postgres

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/JakeFAU/regcrawl/internal/config"
)

// Tunnel forwards database connections through an SSH bastion.
type Tunnel struct {
	client *ssh.Client
}

// OpenTunnel connects to the bastion described by cfg. Host keys are checked
// against cfg.KnownHosts when it is set.
func OpenTunnel(cfg config.SSHConfig) (*Tunnel, error) {
	hostKeys := ssh.InsecureIgnoreHostKey() // #nosec G106 -- only when no known_hosts file is configured
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeys = cb
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Password)},
		HostKeyCallback: hostKeys,
		Timeout:         15 * time.Second,
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", cfg.Host, err)
	}
	return &Tunnel{client: client}, nil
}

// DialContext opens a forwarded connection to addr as seen from the bastion.
func (t *Tunnel) DialContext(ctx context.Context, _ string, addr string) (net.Conn, error) {
	conn, err := t.client.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh forward %s: %w", addr, err)
	}
	return conn, nil
}

// Close shuts down the SSH session.
func (t *Tunnel) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
