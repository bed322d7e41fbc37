package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campaignkit/outreach/pkg/logger"
	"github.com/campaignkit/outreach/pkg/metrics"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = metrics.New("outreach_queue_test")

func TestBackoffForDoubles(t *testing.T) {
	env := &envelope{BackoffMS: DefaultBackoff.Milliseconds()}

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 60 * time.Second},
		{2, 120 * time.Second},
		{3, 240 * time.Second},
		{4, 480 * time.Second},
	}
	for _, tc := range cases {
		env.Attempts = tc.attempts
		assert.Equal(t, tc.want, backoffFor(env), "attempts=%d", tc.attempts)
	}
}

func TestBackoffForUsesJobBase(t *testing.T) {
	env := &envelope{BackoffMS: 500, Attempts: 3}
	assert.Equal(t, 2*time.Second, backoffFor(env))
}

func TestBackoffForDefaultsMissingBase(t *testing.T) {
	env := &envelope{Attempts: 1}
	assert.Equal(t, DefaultBackoff, backoffFor(env))
}

func TestNewWorkerDefaults(t *testing.T) {
	w := NewWorker(New(nil, "send", testMetrics), nil, WorkerConfig{}, logger.Discard())

	assert.Equal(t, 1, w.config.Concurrency)
	assert.Equal(t, time.Second, w.config.PollInterval)
	assert.Equal(t, 100, w.config.PromoteBatch)
	assert.Nil(t, w.limiter)
}

func TestNewWorkerRateLimiter(t *testing.T) {
	w := NewWorker(New(nil, "send", testMetrics), nil, WorkerConfig{RatePerMinute: 30}, logger.Discard())
	assert.NotNil(t, w.limiter)
}

func TestQueueKeys(t *testing.T) {
	q := New(nil, "send", testMetrics)

	assert.Equal(t, "outreach:queue:send:scheduled", q.scheduledKey())
	assert.Equal(t, "outreach:queue:send:ready", q.readyKey())
	assert.Equal(t, "outreach:queue:send:processing", q.processingKey())
	assert.Equal(t, "outreach:queue:send:dead", q.deadKey())
}
