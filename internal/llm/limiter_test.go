package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/concierge/internal/models"
)

type countingClient struct {
	calls atomic.Int32
}

func (c *countingClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	c.calls.Add(1)
	return &Response{Content: "ok"}, nil
}

func (c *countingClient) Stream(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	c.calls.Add(1)
	if onDelta != nil {
		onDelta("ok")
	}
	return &Response{Content: "ok"}, nil
}

func TestRateLimiter_BurstThenWait(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }
	rl.SetLimits("test", ProviderLimits{RequestsPerMinute: 60, BurstSize: 2, ConcurrentRequests: 4})

	b := rl.bucketFor("test")
	assert.Zero(t, rl.take(b))
	assert.Zero(t, rl.take(b))

	wait := rl.take(b)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	now = now.Add(time.Second)
	assert.Zero(t, rl.take(b))
}

func TestRateLimiter_ConcurrencyRespectsContext(t *testing.T) {
	rl := NewRateLimiter()
	rl.SetLimits("test", ProviderLimits{RequestsPerMinute: 600, BurstSize: 10, ConcurrentRequests: 1})

	release, err := rl.Acquire(context.Background(), "test")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.Acquire(ctx, "test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := rl.Acquire(context.Background(), "test")
	require.NoError(t, err)
	release2()
}

func TestWithRateLimit_PassesThrough(t *testing.T) {
	inner := &countingClient{}
	factory := WithRateLimit(func(models.ModelConfig) Client { return inner }, NewRateLimiter())

	client := factory(models.ModelConfig{Provider: "openai", Model: "gpt-4o"})
	resp, err := client.Complete(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	var got string
	_, err = client.Stream(context.Background(), &Request{}, func(d string) { got += d })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestDefaultProviderLimits(t *testing.T) {
	for _, p := range []string{"openai", "groq", "ollama", "gemini", "unknown"} {
		l := DefaultProviderLimits(p)
		assert.Positive(t, l.RequestsPerMinute, p)
		assert.Positive(t, l.ConcurrentRequests, p)
	}
}
