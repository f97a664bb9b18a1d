package realtime

import (
	"math"
	"sync"
	"time"
)

// ReconnectDelayStrategy decides how long the heartbeat loop waits before a
// reconnect attempt to a URL. Reset is called after a successful connect.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(url string) (time.Duration, error)
	Reset()
}

// ImmediateDelayStrategy retries without waiting and never gives up. It is
// the default: the heartbeat loop attempts one reconnect per tick until the
// server comes back.
type ImmediateDelayStrategy struct{}

// NewImmediateDelayStrategy returns a new ImmediateDelayStrategy.
func NewImmediateDelayStrategy() *ImmediateDelayStrategy {
	return &ImmediateDelayStrategy{}
}

// GetConnectWaitDuration returns zero.
func (strategy *ImmediateDelayStrategy) GetConnectWaitDuration(url string) (time.Duration, error) {
	return 0, nil
}

// Reset is a no-op; ImmediateDelayStrategy keeps no state.
func (strategy *ImmediateDelayStrategy) Reset() {}

// FixedDelayStrategy waits a constant delay before every reconnect attempt,
// optionally giving up once attempts for a URL have spanned MaxRetryDuration.
type FixedDelayStrategy struct {
	Delay            time.Duration
	MaxRetryDuration time.Duration

	lock         sync.Mutex
	firstAttempt map[string]time.Time
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy. An optional second
// duration bounds the total time spent retrying one URL; once exceeded,
// GetConnectWaitDuration returns ErrReconnectGaveUp.
func NewFixedDelayStrategy(delay time.Duration, maxRetryDuration ...time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	strategy := &FixedDelayStrategy{
		Delay:        delay,
		firstAttempt: make(map[string]time.Time),
	}
	if len(maxRetryDuration) > 0 && maxRetryDuration[0] > 0 {
		strategy.MaxRetryDuration = maxRetryDuration[0]
	}
	return strategy
}

// GetConnectWaitDuration returns the current connect wait duration value.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(url string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	if strategy.MaxRetryDuration <= 0 {
		return strategy.Delay, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if url == "" {
		url = "_default"
	}
	first, seen := strategy.firstAttempt[url]
	now := time.Now()
	if !seen {
		strategy.firstAttempt[url] = now
		return strategy.Delay, nil
	}
	if now.Sub(first)+strategy.Delay > strategy.MaxRetryDuration {
		return 0, ErrReconnectGaveUp
	}
	return strategy.Delay, nil
}

// Reset clears retry tracking after a successful connect.
func (strategy *FixedDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.firstAttempt = make(map[string]time.Time)
	strategy.lock.Unlock()
}

// ExponentialDelayStrategy grows the reconnect delay per attempt up to
// MaxDelay.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  map[string]uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// GetConnectWaitDuration returns the current connect wait duration value.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(url string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if url == "" {
		url = "_default"
	}

	attempt := strategy.attempts[url]
	strategy.attempts[url] = attempt + 1

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		delayFloat := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if delayFloat > float64(strategy.MaxDelay) {
			delayFloat = float64(strategy.MaxDelay)
		}
		delay = time.Duration(delayFloat)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay, nil
}

// Reset clears per-URL attempt counts after a successful connect.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}
