package realtime

import (
	"errors"
	"testing"
	"time"
)

func TestImmediateDelayStrategy(t *testing.T) {
	strategy := NewImmediateDelayStrategy()
	for i := 0; i < 3; i++ {
		delay, err := strategy.GetConnectWaitDuration("ws://localhost:4000/socket/websocket")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if delay != 0 {
			t.Fatalf("expected zero delay, got %v", delay)
		}
	}
}

func TestFixedDelayStrategy(t *testing.T) {
	strategy := NewFixedDelayStrategy(250 * time.Millisecond)
	delay1, err := strategy.GetConnectWaitDuration("ws://localhost:4000/socket/websocket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	delay2, _ := strategy.GetConnectWaitDuration("ws://localhost:4000/socket/websocket")
	if delay1 != 250*time.Millisecond || delay2 != 250*time.Millisecond {
		t.Fatalf("expected fixed delay of 250ms, got %v and %v", delay1, delay2)
	}
}

func TestFixedDelayStrategyGivesUp(t *testing.T) {
	strategy := NewFixedDelayStrategy(time.Millisecond, 20*time.Millisecond)
	if _, err := strategy.GetConnectWaitDuration("a"); err != nil {
		t.Fatalf("first attempt should be allowed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := strategy.GetConnectWaitDuration("a"); !errors.Is(err, ErrReconnectGaveUp) {
		t.Fatalf("expected ErrReconnectGaveUp, got %v", err)
	}

	strategy.Reset()
	if _, err := strategy.GetConnectWaitDuration("a"); err != nil {
		t.Fatalf("reset should clear retry tracking: %v", err)
	}
}

func TestExponentialDelayStrategy(t *testing.T) {
	strategy := NewExponentialDelayStrategy(50*time.Millisecond, 400*time.Millisecond, 2)

	first, _ := strategy.GetConnectWaitDuration("a")
	second, _ := strategy.GetConnectWaitDuration("a")
	third, _ := strategy.GetConnectWaitDuration("a")
	if !(first < second && second <= third) {
		t.Fatalf("expected monotonic exponential delays, got %v, %v, %v", first, second, third)
	}

	strategy.Reset()
	reset, _ := strategy.GetConnectWaitDuration("a")
	if reset != first {
		t.Fatalf("expected reset delay to return to %v, got %v", first, reset)
	}
}

func TestExponentialDelayStrategyCap(t *testing.T) {
	strategy := NewExponentialDelayStrategy(100*time.Millisecond, 150*time.Millisecond, 4)
	var last time.Duration
	for i := 0; i < 5; i++ {
		last, _ = strategy.GetConnectWaitDuration("b")
	}
	if last != 150*time.Millisecond {
		t.Fatalf("expected delays capped at 150ms, got %v", last)
	}
}
