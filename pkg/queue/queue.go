// Package queue implements a durable, delay-aware, at-least-once work queue
// on Redis. Jobs are scheduled into a sorted set keyed by fire time, promoted
// onto a ready list when due, moved to a processing list while a handler
// runs, and retried with exponential backoff until their attempt budget is
// exhausted, after which they land on a dead letter list for inspection.
// Jobs stranded on the processing list by a crashed run are requeued on the
// next worker start.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/campaignkit/outreach/pkg/metrics"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 60 * time.Second
)

// ErrPermanent, returned (or wrapped) by a Handler, tells the worker the
// job can never succeed: it is buried immediately instead of retried.
var ErrPermanent = errors.New("permanent job failure")

// Options controls scheduling and retry behavior for a single job.
type Options struct {
	// Delay is how long to wait before the job becomes due. Zero means
	// due immediately.
	Delay time.Duration
	// MaxAttempts caps total executions of the job, first attempt included.
	MaxAttempts int
	// Backoff is the base delay before the second attempt; it doubles for
	// every attempt after that.
	Backoff time.Duration
}

// Stats is a point-in-time snapshot of queue depths.
type Stats struct {
	Scheduled  int64 `json:"scheduled"`
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

// envelope is the wire form of a queued job.
type envelope struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffMS   int64           `json:"backoff_ms"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// promoteScript atomically moves all due members of the scheduled set onto
// the ready list. Run as a single script so a crashed worker can never lose
// a job between the read and the move. LPUSH pairs with the consumer's
// tail pop to keep due jobs FIFO.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for i = 1, #due do
	redis.call('ZREM', KEYS[1], due[i])
	redis.call('LPUSH', KEYS[2], due[i])
end
return #due
`)

// Queue is a named delayed queue over a shared Redis connection.
type Queue struct {
	client  redis.UniversalClient
	name    string
	metrics *metrics.Metrics
}

// New creates a queue handle. Queues sharing a name share jobs.
func New(client redis.UniversalClient, name string, metrics *metrics.Metrics) *Queue {
	return &Queue{client: client, name: name, metrics: metrics}
}

func (q *Queue) scheduledKey() string { return fmt.Sprintf("outreach:queue:%s:scheduled", q.name) }
func (q *Queue) readyKey() string     { return fmt.Sprintf("outreach:queue:%s:ready", q.name) }
func (q *Queue) processingKey() string {
	return fmt.Sprintf("outreach:queue:%s:processing", q.name)
}
func (q *Queue) deadKey() string { return fmt.Sprintf("outreach:queue:%s:dead", q.name) }

// Enqueue schedules one job. The payload is marshalled to JSON and handed
// back to the worker's handler verbatim at execution time.
func (q *Queue) Enqueue(ctx context.Context, payload interface{}, opts Options) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	env := envelope{
		ID:          uuid.New().String(),
		Payload:     raw,
		Attempts:    0,
		MaxAttempts: opts.MaxAttempts,
		BackoffMS:   opts.Backoff.Milliseconds(),
		EnqueuedAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	fireAt := time.Now().Add(opts.Delay)
	err = q.client.ZAdd(ctx, q.scheduledKey(), redis.Z{
		Score:  float64(fireAt.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to schedule job: %w", err)
	}

	q.metrics.JobsEnqueued.Inc()
	return env.ID, nil
}

// promote moves due jobs onto the ready list and returns how many moved.
func (q *Queue) promote(ctx context.Context, now time.Time, batch int) (int64, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.scheduledKey(), q.readyKey()},
		now.UnixMilli(), batch,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to promote due jobs: %w", err)
	}
	return n, nil
}

// reschedule puts a failed job back on the scheduled set after its backoff.
func (q *Queue) reschedule(ctx context.Context, env *envelope, delay time.Duration) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}
	return q.client.ZAdd(ctx, q.scheduledKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: data,
	}).Err()
}

// recoverProcessing moves jobs stranded on the processing list by an
// earlier run back onto the ready list, and returns how many moved. Callers
// run it before consuming starts, so only a crashed run's leftovers are on
// the list.
func (q *Queue) recoverProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover in-flight job: %w", err)
		}
		moved++
	}
}

// bury moves an exhausted or invalid job to the dead letter list.
func (q *Queue) bury(ctx context.Context, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal job envelope: %w", err)
	}
	return q.client.LPush(ctx, q.deadKey(), data).Err()
}

// Stats reports current queue depths.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	scheduled, err := q.client.ZCard(ctx, q.scheduledKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduled depth: %w", err)
	}
	ready, err := q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ready depth: %w", err)
	}
	processing, err := q.client.LLen(ctx, q.processingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read processing depth: %w", err)
	}
	dead, err := q.client.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead depth: %w", err)
	}
	return &Stats{Scheduled: scheduled, Ready: ready, Processing: processing, Dead: dead}, nil
}
