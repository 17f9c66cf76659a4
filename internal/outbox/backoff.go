package outbox

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultBackoffBase       = 2 * time.Second
	defaultBackoffCap        = 5 * time.Minute
	defaultNonRetryableDelay = 6 * time.Hour
	nonRetryableJitterWindow = 10 * time.Minute
)

// BackoffPolicy computes retry delays. Retryable failures double per attempt
// up to a cap, scaled by a full jitter factor in [0,1). Non-retryable
// failures get a long fixed floor plus jitter so they surface to a human
// instead of hot-retrying.
type BackoffPolicy struct {
	Base              time.Duration
	Cap               time.Duration
	NonRetryableDelay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoffPolicy builds a policy, applying defaults for unset fields.
func NewBackoffPolicy(base, cap, nonRetryable time.Duration) *BackoffPolicy {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if cap <= 0 {
		cap = defaultBackoffCap
	}
	if nonRetryable <= 0 {
		nonRetryable = defaultNonRetryableDelay
	}
	return &BackoffPolicy{
		Base:              base,
		Cap:               cap,
		NonRetryableDelay: nonRetryable,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RetryableCap returns the pre-jitter delay ceiling for the given attempt
// number (1-based). Exposed so the monotonic growth is testable apart from
// jitter.
func (p *BackoffPolicy) RetryableCap(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			return p.Cap
		}
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}

// NextRetryable returns the jittered delay before the next attempt.
func (p *BackoffPolicy) NextRetryable(attempt int) time.Duration {
	ceiling := p.RetryableCap(attempt)
	return time.Duration(p.jitterFactor() * float64(ceiling))
}

// NextNonRetryable returns the delay for failures that need human attention:
// at least the configured floor, plus a jitter window so stuck jobs do not
// all wake at once.
func (p *BackoffPolicy) NextNonRetryable() time.Duration {
	return p.NonRetryableDelay + time.Duration(p.jitterFactor()*float64(nonRetryableJitterWindow))
}

func (p *BackoffPolicy) jitterFactor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rng.Float64()
}
