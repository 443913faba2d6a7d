package probe

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"falconeye/internal/models"
)

// runner executes one remote command over an established connection. It is
// a seam for tests: the real implementation holds live SSH clients.
type runner interface {
	run(cmd string) (stdout, stderr string, exitCode int, err error)
	close()
}

// dialFunc opens the transport to a target, tunneling through its jump
// host when one is referenced. Jump references are validated by the caller
// before any dialing happens.
type dialFunc func(target models.ServerTarget, registry *models.Registry, timeout time.Duration) (runner, error)

// sshRunner wraps the target client plus, when tunneled, the jump client.
// Both are closed best-effort in reverse order.
type sshRunner struct {
	target *ssh.Client
	jump   *ssh.Client
}

func (r *sshRunner) run(cmd string) (string, string, int, error) {
	session, err := r.target.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	exitCode := 0
	if err := session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			return "", "", -1, fmt.Errorf("execute remote command: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

func (r *sshRunner) close() {
	_ = r.target.Close()
	if r.jump != nil {
		_ = r.jump.Close()
	}
}

// dialSSH is the production dialFunc. With a jump reference it connects to
// the jump host first and opens a forwarded TCP channel to the target;
// otherwise it dials the target directly.
func dialSSH(target models.ServerTarget, registry *models.Registry, timeout time.Duration) (runner, error) {
	cfg, err := clientConfig(target, timeout)
	if err != nil {
		return nil, err
	}

	if target.JumpRef == "" {
		client, err := ssh.Dial("tcp", target.Addr(), cfg)
		if err != nil {
			return nil, err
		}
		return &sshRunner{target: client}, nil
	}

	jumpTarget, ok := registry.Lookup(target.JumpRef)
	if !ok {
		return nil, fmt.Errorf("jump server configuration %q not found", target.JumpRef)
	}
	jumpCfg, err := clientConfig(jumpTarget, timeout)
	if err != nil {
		return nil, err
	}
	jumpClient, err := ssh.Dial("tcp", jumpTarget.Addr(), jumpCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to jump server %q: %w", jumpTarget.Name, err)
	}

	// Forwarded channel from the jump session to the target; on failure the
	// jump session must not leak.
	conn, err := jumpClient.Dial("tcp", target.Addr())
	if err != nil {
		_ = jumpClient.Close()
		return nil, fmt.Errorf("open SSH channel via jump server %q: %w", jumpTarget.Name, err)
	}

	// ClientConfig.Timeout only bounds a TCP dial and the forwarded conn
	// rejects deadlines, so the tunneled handshake needs its own bound.
	sshConn, chans, reqs, err := newClientConnWithTimeout(conn, target.Addr(), cfg, timeout)
	if err != nil {
		_ = conn.Close()
		_ = jumpClient.Close()
		return nil, err
	}

	return &sshRunner{target: ssh.NewClient(sshConn, chans, reqs), jump: jumpClient}, nil
}

// handshakeTimeoutError satisfies net.Error so the dial-error taxonomy
// classifies a hung tunneled handshake as a timeout.
type handshakeTimeoutError struct {
	addr    string
	timeout time.Duration
}

func (e *handshakeTimeoutError) Error() string {
	return fmt.Sprintf("SSH handshake with %s timed out after %s", e.addr, e.timeout)
}

func (e *handshakeTimeoutError) Timeout() bool   { return true }
func (e *handshakeTimeoutError) Temporary() bool { return false }

// newClientConnWithTimeout runs the SSH handshake over an established conn,
// closing the conn when the timeout elapses so the handshake cannot block
// the caller indefinitely.
func newClientConnWithTimeout(conn net.Conn, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	timedOut := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		close(timedOut)
		_ = conn.Close()
	})
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	timer.Stop()
	if err != nil {
		select {
		case <-timedOut:
			return nil, nil, nil, &handshakeTimeoutError{addr: addr, timeout: timeout}
		default:
		}
		return nil, nil, nil, err
	}
	return sshConn, chans, reqs, nil
}

// clientConfig resolves auth material for a target. Key auth wins over
// password when both are present, matching the configuration contract.
func clientConfig(target models.ServerTarget, timeout time.Duration) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	switch {
	case target.KeyPath != "":
		key, err := os.ReadFile(target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", target.KeyPath, err)
		}
		var signer ssh.Signer
		if target.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(target.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", target.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	case target.Password != "":
		methods = append(methods, ssh.Password(target.Password))
	default:
		return nil, fmt.Errorf("authentication details (password/key) missing for %q", target.Name)
	}

	return &ssh.ClientConfig{
		User:            target.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // targets are operator-configured hosts
		Timeout:         timeout,
	}, nil
}

// classifyDialError maps a transport failure onto the probe error taxonomy:
// authentication failure, transport/protocol error (including timeout), or
// a general error.
func classifyDialError(name string, err error) string {
	msg := err.Error()
	switch {
	case containsAny(msg, "unable to authenticate", "no supported methods remain", "permission denied"):
		return fmt.Sprintf("authentication failed for %s: %v", name, err)
	case isTimeout(err):
		return fmt.Sprintf("SSH connection to %s timed out: %v", name, err)
	case containsAny(msg, "ssh:", "handshake", "connection refused", "no route to host", "network is unreachable"):
		return fmt.Sprintf("SSH connection error for %s: %v", name, err)
	default:
		return fmt.Sprintf("a general error occurred while probing %s: %v", name, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
