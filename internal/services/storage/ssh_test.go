package storage

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations
type mockSSHSession struct {
	combinedOutputFunc func(cmd string) ([]byte, error)
	closeFunc          func() error
	stdin              io.Reader
}

func (m *mockSSHSession) SetStdin(r io.Reader) {
	m.stdin = r
}

func (m *mockSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	if m.combinedOutputFunc != nil {
		return m.combinedOutputFunc(cmd)
	}
	return []byte(""), nil
}

func (m *mockSSHSession) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
	closeFunc      func() error
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

// generateTestKey generates a valid ed25519 key for testing using crypto/ed25519.
func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func testHost(t *testing.T) models.RemoteHost {
	return models.RemoteHost{
		Alias:      "nas",
		HostName:   "192.168.1.100",
		Port:       2222,
		Username:   "backup",
		PrivateKey: generateTestKey(t),
	}
}

// scriptedFactory answers each command with respond and records the commands.
func scriptedFactory(commands *[]string, respond func(cmd string) ([]byte, error)) *mockClientFactory {
	return &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							*commands = append(*commands, cmd)
							return respond(cmd)
						},
					}, nil
				},
			}, nil
		},
	}
}

func TestSSH_ConnectsWithResolvedParameters(t *testing.T) {
	var gotAddr, gotUser string
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			gotAddr = addr
			gotUser = config.User
			return &mockSSHClient{}, nil
		},
	}

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	require.NoError(t, s.MkdirAll(context.Background(), "/backups"))

	assert.Equal(t, "192.168.1.100:2222", gotAddr)
	assert.Equal(t, "backup", gotUser)
}

func TestSSH_ReusesClient(t *testing.T) {
	dials := 0
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			dials++
			return &mockSSHClient{}, nil
		},
	}

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	require.NoError(t, s.MkdirAll(context.Background(), "/a"))
	require.NoError(t, s.RemoveAll(context.Background(), "/b"))
	require.NoError(t, s.Close())
	require.NoError(t, s.MkdirAll(context.Background(), "/c"))

	assert.Equal(t, 2, dials)
}

func TestSSH_ConnectionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	_, err := s.Exists(context.Background(), "/backups")

	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTransfer))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSSH_SessionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return nil, errors.New("session creation failed")
				},
			}, nil
		},
	}

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	err := s.RemoveAll(context.Background(), "/backups/x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session")
}

func TestSSH_ReconnectsAfterSessionFailure(t *testing.T) {
	dials := 0
	closed := false
	var commands []string
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			dials++
			if dials == 1 {
				return &mockSSHClient{
					newSessionFunc: func() (SSHSession, error) {
						return nil, io.EOF
					},
					closeFunc: func() error {
						closed = true
						return nil
					},
				}, nil
			}
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							commands = append(commands, cmd)
							return nil, nil
						},
					}, nil
				},
			}, nil
		},
	}

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	require.NoError(t, s.MkdirAll(context.Background(), "/backups"))
	require.NoError(t, s.MkdirAll(context.Background(), "/backups/next"))

	assert.Equal(t, 2, dials)
	assert.True(t, closed)
	assert.Len(t, commands, 2)
}

func TestSSH_NoPrivateKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	host := testHost(t)
	host.PrivateKey = nil

	s := NewSSHWithClientFactory(testLogger(), host, &mockClientFactory{})
	err := s.MkdirAll(context.Background(), "/x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key")
}

func TestSSH_InvalidPrivateKey(t *testing.T) {
	host := testHost(t)
	host.PrivateKey = []byte("not a key")

	s := NewSSHWithClientFactory(testLogger(), host, &mockClientFactory{})
	err := s.MkdirAll(context.Background(), "/x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse private key")
}

func TestSSH_ReadDir(t *testing.T) {
	var commands []string
	factory := scriptedFactory(&commands, func(cmd string) ([]byte, error) {
		if strings.HasPrefix(cmd, "if [ -e") {
			return []byte("yes\n"), nil
		}
		return []byte("d 20240102030405\nf lost.txt\nd 20240101000000\n"), nil
	})

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	entries, err := s.ReadDir(context.Background(), "/backups")

	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "20240101000000", IsDir: true},
		{Name: "20240102030405", IsDir: true},
		{Name: "lost.txt", IsDir: false},
	}, entries)
	assert.Equal(t, "find '/backups' -mindepth 1 -maxdepth 1 -printf '%y %f\\n'", commands[1])
}

func TestSSH_ReadFileMissing(t *testing.T) {
	var commands []string
	factory := scriptedFactory(&commands, func(cmd string) ([]byte, error) {
		return []byte("no\n"), nil
	})

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	_, err := s.ReadFile(context.Background(), "/backups/x/.info")

	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Len(t, commands, 1)
}

func TestSSH_WriteFileStreamsStdin(t *testing.T) {
	var gotCmd string
	var gotInput []byte
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					sess := &mockSSHSession{}
					sess.combinedOutputFunc = func(cmd string) ([]byte, error) {
						gotCmd = cmd
						var err error
						gotInput, err = io.ReadAll(sess.stdin)
						return nil, err
					}
					return sess, nil
				},
			}, nil
		},
	}

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	err := s.WriteFile(context.Background(), "/backups/20240101000000/.info", []byte(`{"status":"complete"}`))

	require.NoError(t, err)
	assert.Equal(t, "cat > '/backups/20240101000000/..info.tmp' && mv -f -- '/backups/20240101000000/..info.tmp' '/backups/20240101000000/.info'", gotCmd)
	assert.JSONEq(t, `{"status":"complete"}`, string(gotInput))
}

func TestSSH_Usage(t *testing.T) {
	var commands []string
	factory := scriptedFactory(&commands, func(cmd string) ([]byte, error) {
		return []byte("2048\t/backups/20240101000000\n"), nil
	})

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	n, err := s.Usage(context.Background(), "/backups/20240101000000")

	require.NoError(t, err)
	assert.Equal(t, int64(2048*1024), n)
	assert.Equal(t, []string{"du -sk -- '/backups/20240101000000'"}, commands)
}

func TestSSH_CommandFailureIncludesOutput(t *testing.T) {
	var commands []string
	factory := scriptedFactory(&commands, func(cmd string) ([]byte, error) {
		return []byte("mv: cannot move: Permission denied\n"), errors.New("Process exited with status 1")
	})

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	err := s.Rename(context.Background(), "/a", "/b")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
}

func TestSSH_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			<-block
			return &mockSSHClient{}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	err := s.MkdirAll(ctx, "/x")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSSH_TestConnection(t *testing.T) {
	var commands []string
	factory := scriptedFactory(&commands, func(cmd string) ([]byte, error) {
		return []byte("OK\n"), nil
	})

	s := NewSSHWithClientFactory(testLogger(), testHost(t), factory)
	result, err := s.TestConnection(context.Background())

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Equal(t, "OK", result.Output)
	assert.Nil(t, result.Error)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'/plain/path'`, quote("/plain/path"))
	assert.Equal(t, `'/it'\''s here'`, quote("/it's here"))
}
