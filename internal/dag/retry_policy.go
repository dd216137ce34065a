package dag

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how a failed (or not yet done) task attempt is retried
type RetryPolicy struct {
	// MaxRetries bounds the retries after the first attempt; negative means unlimited
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxInterval   time.Duration `json:"max_interval" yaml:"max_interval"`
	JitterFactor  float64       `json:"jitter_factor" yaml:"jitter_factor"` // Percentage of jitter (0.0 to 1.0)
}

// NewDefaultRetryPolicy creates a retry policy with sensible defaults
func NewDefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    3,
		Interval:      5 * time.Second,
		BackoffFactor: 1.0,
		MaxInterval:   2 * time.Minute,
	}
}

// NoRetryPolicy fails a task on its first failed attempt
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// Unlimited reports whether the policy never runs out of retries
func (p *RetryPolicy) Unlimited() bool {
	return p.MaxRetries < 0
}

// CanRetry returns true if another retry is allowed after retryCount retries
func (p *RetryPolicy) CanRetry(retryCount int) bool {
	if p == nil {
		return false
	}
	return p.Unlimited() || retryCount < p.MaxRetries
}

// Delay calculates the wait before the given retry (1-based)
func (p *RetryPolicy) Delay(retry int) time.Duration {
	if p == nil || retry <= 0 || p.Interval <= 0 {
		return 0
	}

	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	// interval * (factor ^ (retry-1))
	delay := time.Duration(float64(p.Interval) * math.Pow(factor, float64(retry-1)))

	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}

	if p.JitterFactor > 0 {
		jitter := rand.Float64() * p.JitterFactor
		delay = time.Duration(float64(delay) * (1 + jitter))
	}

	return delay
}
