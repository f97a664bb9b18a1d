package realtime

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const (
	integrationConnectTimeout = 10 * time.Second
	integrationWaitTimeout    = 8 * time.Second
)

func integrationURL(t *testing.T) string {
	t.Helper()
	rawURL := strings.TrimSpace(os.Getenv("REALTIME_TEST_URL"))
	if rawURL == "" {
		t.Skip("integration test skipped: REALTIME_TEST_URL is not set")
	}
	return rawURL
}

func integrationTopic() string {
	topic := strings.TrimSpace(os.Getenv("REALTIME_TEST_TOPIC"))
	if topic == "" {
		return "room:integration"
	}
	return topic
}

func TestIntegrationConnectSubscribeListen(t *testing.T) {
	rawURL := integrationURL(t)

	socket := NewSocket(rawURL).
		SetLogger(quietLogger()).
		SetHeartbeatInterval(500 * time.Millisecond)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), integrationConnectTimeout)
	defer cancelConnect()
	if err := socket.Connect(connectCtx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer func() { _ = socket.Disconnect() }()

	var delivered atomic.Int64
	channel, err := socket.Channel(integrationTopic())
	if err != nil {
		t.Fatalf("channel failed: %v", err)
	}
	channel.On("new_msg", func(payload any) {
		delivered.Add(1)
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- socket.Run(runCtx) }()

	if err := socket.Subscribe(integrationTopic()); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Ride out a few heartbeats; the session must stay up on its own.
	time.Sleep(3 * socket.HeartbeatInterval())
	if !socket.IsConnected() {
		t.Fatalf("expected session to stay connected across heartbeats")
	}

	cancelRun()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(integrationWaitTimeout):
		t.Fatalf("timed out waiting for run to stop")
	}

	if count := delivered.Load(); count > 0 {
		t.Logf("received %d message(s) on %s during the session", count, integrationTopic())
	}
}

func TestIntegrationEnvContract(t *testing.T) {
	_ = integrationURL(t)
}
