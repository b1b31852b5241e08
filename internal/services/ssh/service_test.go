package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Mock implementations
type mockSSHSession struct {
	combinedOutputFunc func(cmd string) ([]byte, error)
	closeFunc          func() error
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

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// writeTestKey writes a fresh ed25519 private key in OpenSSH format and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0o600))
	return path
}

func testConfig(t *testing.T) models.SSHConfig {
	return models.SSHConfig{
		Host:    "192.168.1.100",
		Port:    2222,
		User:    "duplicity",
		KeyFile: writeTestKey(t),
	}
}

func TestTestConnection_Success(t *testing.T) {
	var capturedAddr, capturedUser, capturedCommand string

	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			capturedAddr = addr
			capturedUser = config.User
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							capturedCommand = cmd
							return []byte("OK\n"), nil
						},
					}, nil
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.True(t, result.CommandRun)
	assert.Equal(t, "OK\n", result.Output)
	assert.Equal(t, "192.168.1.100:2222", capturedAddr)
	assert.Equal(t, "duplicity", capturedUser)
	assert.Equal(t, "echo OK", capturedCommand)
}

func TestTestConnection_ConnectionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	// TestConnection returns result with error in Error field, not as function return
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.CommandRun)
	assert.Contains(t, result.Error.Error(), "failed to connect")
}

func TestTestConnection_SessionFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return nil, errors.New("session failed")
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.Contains(t, result.Error.Error(), "failed to create session")
}

func TestTestConnection_CommandFailed(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			return &mockSSHClient{
				newSessionFunc: func() (SSHSession, error) {
					return &mockSSHSession{
						combinedOutputFunc: func(cmd string) ([]byte, error) {
							return []byte("This account is restricted"), errors.New("exit status 1")
						},
					}, nil
				},
			}, nil
		},
	}

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(context.Background(), testConfig(t))

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Error.Error(), "test command failed")
	assert.Equal(t, "This account is restricted", result.Output)
}

func TestTestConnection_NoKeyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeyFile = ""

	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.Contains(t, result.Error.Error(), "no private key file configured")
}

func TestTestConnection_InvalidKey(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.KeyFile, []byte("not a key"), 0o600))

	svc := NewWithClientFactory(testLogger(), &mockClientFactory{})
	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	assert.Contains(t, result.Error.Error(), "failed to parse private key")
}

func TestTestConnection_ContextCancelled(t *testing.T) {
	factory := &mockClientFactory{
		newClientFunc: func(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
			time.Sleep(time.Second)
			return &mockSSHClient{}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewWithClientFactory(testLogger(), factory)
	result, err := svc.TestConnection(ctx, testConfig(t))

	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestBuildConfig_KeyFileNotFound(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeyFile = "/nonexistent/path/to/key"

	svc := New(testLogger())
	_, err := svc.buildConfig(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read private key")
}

func TestBuildConfig_StrictWithKnownHosts(t *testing.T) {
	hostPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewPublicKey(hostPub)
	require.NoError(t, err)

	knownHostsFile := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{"[192.168.1.100]:2222"}, hostKey)
	require.NoError(t, os.WriteFile(knownHostsFile, []byte(line+"\n"), 0o600))

	cfg := testConfig(t)
	cfg.StrictHostKeyChecking = true
	cfg.KnownHostsFile = knownHostsFile

	svc := New(testLogger())
	sshConfig, err := svc.buildConfig(cfg)
	require.NoError(t, err)

	addr := &net.TCPAddr{IP: net.ParseIP("192.168.1.100"), Port: 2222}
	assert.NoError(t, sshConfig.HostKeyCallback("192.168.1.100:2222", addr, hostKey))

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherKey, err := ssh.NewPublicKey(otherPub)
	require.NoError(t, err)
	assert.Error(t, sshConfig.HostKeyCallback("192.168.1.100:2222", addr, otherKey))
}

func TestBuildConfig_StrictMissingKnownHosts(t *testing.T) {
	cfg := testConfig(t)
	cfg.StrictHostKeyChecking = true
	cfg.KnownHostsFile = filepath.Join(t.TempDir(), "missing")

	svc := New(testLogger())
	_, err := svc.buildConfig(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load known_hosts")
}
