package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockDialer struct {
	dialFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

func (m *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if m.dialFunc != nil {
		return m.dialFunc(ctx, network, address)
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.WOLConfig {
	return models.WOLConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		PollAddress:  "192.168.1.100:22",
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWake_Success_NoPollAddress(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.Fatal("should not dial without a poll address")
			return nil, nil
		},
	}

	svc := NewWithClients(testLogger(), wolClient, dialer, clock.WallClock)

	cfg := testConfig()
	cfg.PollAddress = ""
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", capturedMAC.String())
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{}, clock.WallClock)

	cfg := testConfig()
	cfg.MACAddress = "invalid-mac"
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network unreachable")
		},
	}

	svc := NewWithClients(testLogger(), wolClient, &mockDialer{}, clock.WallClock)
	result, err := svc.Wake(context.Background(), testConfig())

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "network unreachable")
}

func TestWake_ImmediatelyReachable(t *testing.T) {
	var capturedAddress string
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			capturedAddress = address
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer, clock.WallClock)
	result, err := svc.Wake(context.Background(), testConfig())

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, "192.168.1.100:22", capturedAddress)
}

func TestWake_DelayedReachable(t *testing.T) {
	callCount := 0
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			callCount++
			if callCount < 3 {
				return nil, errors.New("connection refused")
			}
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer, clock.WallClock)
	result, err := svc.Wake(context.Background(), testConfig())

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, 3, callCount)
}

func TestWake_Timeout(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer, clock.WallClock)

	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_ContextCancelled(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer, clock.WallClock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	cfg := testConfig()
	cfg.PollInterval = 100 * time.Millisecond
	result, err := svc.Wake(ctx, cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Equal(t, context.Canceled, result.Error)
}

func TestWake_WithStabilizeWait(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{}, clock.WallClock)

	stabilizeWait := 50 * time.Millisecond
	cfg := testConfig()
	cfg.StabilizeWait = stabilizeWait

	start := time.Now()
	result, err := svc.Wake(context.Background(), cfg)
	duration := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, duration, stabilizeWait)
	assert.GreaterOrEqual(t, result.WaitDuration, stabilizeWait)
}
