package pipeline

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential delays for transient fetch
// failures. MaxAttempts caps retries before the frontier declares the
// target permanently failed.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the policy used when config leaves it unset.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        30 * time.Second,
		Max:         30 * time.Minute,
		MaxAttempts: 3,
	}
}

// Exhausted reports whether attempt has hit the retry cap.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}

// Delay returns the wait before retry number attempt (1-based). Half the
// exponential delay is fixed, the rest is random jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
