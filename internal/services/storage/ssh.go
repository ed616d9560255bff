package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	SetStdin(r io.Reader)
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) SetStdin(r io.Reader) {
	s.session.Stdin = r
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// SSH implements FS on a remote host by running POSIX shell commands.
type SSH struct {
	host          models.RemoteHost
	clientFactory ClientFactory
	logger        zerolog.Logger

	mu     sync.Mutex
	client SSHClient
}

// NewSSH creates a remote filesystem. The connection is opened on first use.
func NewSSH(logger zerolog.Logger, host models.RemoteHost) *SSH {
	return NewSSHWithClientFactory(logger, host, &DefaultClientFactory{})
}

// NewSSHWithClientFactory creates a remote filesystem with a custom client factory (for testing).
func NewSSHWithClientFactory(logger zerolog.Logger, host models.RemoteHost, factory ClientFactory) *SSH {
	return &SSH{
		host:          host,
		clientFactory: factory,
		logger:        logger.With().Str("component", "storage").Str("host", host.Alias).Logger(),
	}
}

func (s *SSH) buildConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	key := s.host.PrivateKey
	if len(key) == 0 && s.host.KeyPath != "" {
		var err error
		key, err = os.ReadFile(s.host.KeyPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read private key from %s: %w", s.host.KeyPath, err)
		}
	}
	if len(key) > 0 {
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("no private key or ssh agent available for %s", s.host.Alias)
	}

	return &ssh.ClientConfig{
		User:            s.host.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // same trust model as StrictHostKeyChecking=no
		Timeout:         30 * time.Second,
	}, nil
}

func (s *SSH) connect(ctx context.Context) (SSHClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	sshConfig, err := s.buildConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(s.host.HostName, strconv.Itoa(s.host.Port))
	s.logger.Debug().Str("addr", addr).Str("user", s.host.Username).Msg("connecting to target host")

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, models.TransferError(fmt.Sprintf("connecting to %s", addr), res.err)
		}
		s.client = res.client
		return s.client, nil
	}
}

// dropClient closes client and forgets it if it is still the cached one.
func (s *SSH) dropClient(client SSHClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	_ = s.client.Close()
	s.client = nil
}

// run executes cmd on the remote host and returns its combined output.
func (s *SSH) run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		// The cached connection may have been dropped by the remote side.
		s.logger.Debug().Err(err).Msg("session failed, reconnecting")
		s.dropClient(client)
		if client, err = s.connect(ctx); err != nil {
			return nil, err
		}
		if session, err = client.NewSession(); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
	}
	defer func() { _ = session.Close() }()

	if stdin != nil {
		session.SetStdin(stdin)
	}

	s.logger.Trace().Str("command", cmd).Msg("running remote command")

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return res.out, fmt.Errorf("remote command failed: %w: %s", res.err, strings.TrimSpace(string(res.out)))
		}
		return res.out, nil
	}
}

// ReadDir lists dir sorted by name.
func (s *SSH) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if ok, err := s.Exists(ctx, dir); err != nil {
		return nil, err
	} else if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
	}

	cmd := fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -printf '%%y %%f\\n'", quote(dir))
	out, err := s.run(ctx, cmd, nil)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(string(out), "\n") {
		kind, name, ok := strings.Cut(line, " ")
		if !ok || name == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, IsDir: kind == "d"})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// MkdirAll creates dir and its parents.
func (s *SSH) MkdirAll(ctx context.Context, dir string) error {
	_, err := s.run(ctx, "mkdir -p -- "+quote(dir), nil)
	return err
}

// ReadFile reads path.
func (s *SSH) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if ok, err := s.Exists(ctx, p); err != nil {
		return nil, err
	} else if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return s.run(ctx, "cat -- "+quote(p), nil)
}

// WriteFile streams data into a temp file next to path and renames it into place.
func (s *SSH) WriteFile(ctx context.Context, p string, data []byte) error {
	tmp := path.Join(path.Dir(p), "."+path.Base(p)+".tmp")
	cmd := fmt.Sprintf("cat > %s && mv -f -- %s %s", quote(tmp), quote(tmp), quote(p))
	_, err := s.run(ctx, cmd, bytes.NewReader(data))
	return err
}

// Rename moves from to to.
func (s *SSH) Rename(ctx context.Context, from, to string) error {
	_, err := s.run(ctx, fmt.Sprintf("mv -- %s %s", quote(from), quote(to)), nil)
	return err
}

// RemoveAll removes path and everything below it.
func (s *SSH) RemoveAll(ctx context.Context, p string) error {
	_, err := s.run(ctx, "rm -rf -- "+quote(p), nil)
	return err
}

// Exists reports whether path exists.
func (s *SSH) Exists(ctx context.Context, p string) (bool, error) {
	out, err := s.run(ctx, fmt.Sprintf("if [ -e %s ]; then echo yes; else echo no; fi", quote(p)), nil)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) == "yes", nil
}

// Usage runs du on the remote host.
func (s *SSH) Usage(ctx context.Context, p string) (int64, error) {
	out, err := s.run(ctx, "du -sk -- "+quote(p), nil)
	if err != nil {
		return 0, err
	}
	field, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\t")
	kb, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing du output %q: %w", string(out), err)
	}
	return kb * 1024, nil
}

// TestConnection verifies connectivity by running a trivial remote command.
func (s *SSH) TestConnection(ctx context.Context) (*models.RemoteResult, error) {
	result := &models.RemoteResult{}

	s.logger.Debug().
		Str("host", s.host.HostName).
		Int("port", s.host.Port).
		Msg("testing SSH connection")

	out, err := s.run(ctx, "echo OK", nil)
	result.Output = strings.TrimSpace(string(out))
	if err != nil {
		result.Error = err
		return result, nil
	}
	result.CommandRun = true
	return result, nil
}

// Close closes the connection if one was opened.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// quote wraps s in single quotes for the remote POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
