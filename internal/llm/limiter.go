package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/normanking/concierge/internal/models"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PER-PROVIDER RATE LIMITING
// ═══════════════════════════════════════════════════════════════════════════════

// ProviderLimits defines request limits for a provider.
type ProviderLimits struct {
	// RequestsPerMinute is the sustained request rate.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// BurstSize allows temporary bursts above the sustained rate.
	BurstSize int `yaml:"burst_size" json:"burst_size"`

	// ConcurrentRequests limits in-flight calls.
	ConcurrentRequests int `yaml:"concurrent_requests" json:"concurrent_requests"`
}

// DefaultProviderLimits returns conservative limits for known providers.
func DefaultProviderLimits(provider string) ProviderLimits {
	switch provider {
	case "groq":
		return ProviderLimits{RequestsPerMinute: 30, BurstSize: 5, ConcurrentRequests: 2}
	case "ollama":
		return ProviderLimits{RequestsPerMinute: 120, BurstSize: 5, ConcurrentRequests: 2}
	case "openai", "anthropic", "grok", "openrouter":
		return ProviderLimits{RequestsPerMinute: 60, BurstSize: 10, ConcurrentRequests: 5}
	case "gemini":
		return ProviderLimits{RequestsPerMinute: 60, BurstSize: 15, ConcurrentRequests: 10}
	default:
		return ProviderLimits{RequestsPerMinute: 30, BurstSize: 5, ConcurrentRequests: 3}
	}
}

// RateLimiter hands out call slots per provider using a token bucket plus a
// concurrency cap.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	max        float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	slots      chan struct{}
}

// NewRateLimiter creates a limiter. Providers without explicit limits get
// DefaultProviderLimits on first use.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetLimits configures limits for a provider, replacing any existing bucket.
func (r *RateLimiter) SetLimits(provider string, limits ProviderLimits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[provider] = newBucket(limits, r.now())
}

func newBucket(limits ProviderLimits, now time.Time) *bucket {
	max := float64(limits.BurstSize)
	if max < 1 {
		max = 1
	}
	concurrent := limits.ConcurrentRequests
	if concurrent < 1 {
		concurrent = 1
	}
	return &bucket{
		tokens:     max,
		max:        max,
		refillRate: float64(limits.RequestsPerMinute) / 60.0,
		lastRefill: now,
		slots:      make(chan struct{}, concurrent),
	}
}

func (r *RateLimiter) bucketFor(provider string) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[provider]
	if !ok {
		b = newBucket(DefaultProviderLimits(provider), r.now())
		r.buckets[provider] = b
	}
	return b
}

// Acquire blocks until the provider has a free slot or ctx is done. The
// returned release function must be called when the call finishes.
func (r *RateLimiter) Acquire(ctx context.Context, provider string) (func(), error) {
	b := r.bucketFor(provider)

	for {
		wait := r.take(b)
		if wait == 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("rate limit wait for %s: %w", provider, ctx.Err())
		case <-timer.C:
		}
	}

	select {
	case b.slots <- struct{}{}:
		return func() { <-b.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("concurrency wait for %s: %w", provider, ctx.Err())
	}
}

// take consumes a token, or returns how long to wait for the next one.
func (r *RateLimiter) take(b *bucket) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.max {
		b.tokens = b.max
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	if b.refillRate <= 0 {
		return time.Second
	}
	return time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
}

// limitedClient gates a Client through a RateLimiter.
type limitedClient struct {
	next     Client
	provider string
	limiter  *RateLimiter
}

func (c *limitedClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	release, err := c.limiter.Acquire(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.next.Complete(ctx, req)
}

func (c *limitedClient) Stream(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	release, err := c.limiter.Acquire(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.next.Stream(ctx, req, onDelta)
}

// WithRateLimit wraps a factory so every client it builds is rate limited
// per provider.
func WithRateLimit(f Factory, limiter *RateLimiter) Factory {
	return func(mc models.ModelConfig) Client {
		return &limitedClient{next: f(mc), provider: mc.Provider, limiter: limiter}
	}
}
