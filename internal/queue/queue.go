// Package queue provides the task queue carrying analysis work from the
// API server to the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by ClaimBlocking when no task arrived within the wait window.
var ErrEmpty = errors.New("queue empty")

// Message is the payload enqueued for one analysis task. The analysis
// row in Postgres is the durable record; the message only carries what
// the worker needs to execute.
type Message struct {
	TaskID     uuid.UUID `json:"task_id"`
	AnalysisID uuid.UUID `json:"analysis_id"`
	ReportPath string    `json:"report_path"`
	Query      string    `json:"query"`
}

// Delivery is a claimed message plus the raw payload needed to ack it.
type Delivery struct {
	Message
	raw string
}

// Queue is the task queue interface.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// ClaimBlocking waits up to timeout for a task, moving it into the
	// processing list so a crashed worker cannot lose it.
	ClaimBlocking(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// RequeueStale moves entries from the processing list back onto the
	// queue. At-least-once delivery: a task requeued this way may run twice.
	RequeueStale(ctx context.Context, max int64) (int64, error)
	Ping(ctx context.Context) error
}

// RedisQueue implements a reliable queue on Redis lists.
// Claim: BRPOPLPUSH queue -> processing. Ack: LREM from processing.
// A reaper periodically calls RequeueStale to recover tasks whose
// worker died between claim and ack.
type RedisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

// NewRedisQueue creates a RedisQueue from a Redis URL.
func NewRedisQueue(redisURL, name string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisQueue{
		rdb:           redis.NewClient(opts),
		queueKey:      name + ":queue",
		processingKey: name + ":processing",
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

func (q *RedisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		// Poison payload: drop it from the processing list so the
		// reaper does not cycle it forever.
		_ = q.rdb.LRem(ctx, q.processingKey, 1, raw).Err()
		return nil, err
	}

	return &Delivery{Message: msg, raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.processingKey, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	return nil
}

func (q *RedisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		_, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("requeue stale: %w", err)
		}
		moved++
	}
	return moved, nil
}

// EncodeMessage serializes a message for the wire.
func EncodeMessage(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode task message: %w", err)
	}
	return string(b), nil
}

// DecodeMessage parses a wire payload back into a message.
func DecodeMessage(raw string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, fmt.Errorf("decode task message: %w", err)
	}
	if msg.TaskID == uuid.Nil || msg.AnalysisID == uuid.Nil {
		return Message{}, errors.New("decode task message: missing ids")
	}
	return msg, nil
}

var _ Queue = (*RedisQueue)(nil)
