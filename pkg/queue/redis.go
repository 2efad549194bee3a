package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"GridVol/pkg/logger"
)

// RedisQueue is a list-backed job queue: LPUSH/BRPOP for work, a sorted set
// for delayed retries, a list for dead letters and one key per job status.
type RedisQueue struct {
	logger    *logger.Logger
	config    QueueConfig
	client    redis.UniversalClient
	jobs      map[string]Job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
	now       func() time.Time
}

var _ Enqueuer = (*RedisQueue)(nil)

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.keyPrefix = prefix }
}

func NewRedisQueue(lgr *logger.Logger, config QueueConfig, client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.StatusTTL <= 0 {
		config.StatusTTL = 24 * time.Hour
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 10 * time.Minute
	}
	if lgr == nil {
		lgr = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RedisQueue{
		logger:    lgr,
		config:    config,
		client:    client,
		jobs:      make(map[string]Job),
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "gridvol:queue",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start launches the workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.isRunning = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryProcessor()

	r.logger.Info("redis queue started", logger.Int("workers", r.config.Workers))
	return nil
}

// Stop cancels in-flight jobs and waits for the workers.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue stores a queued status and pushes the message. It returns the job id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	r.mu.RLock()
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("no job registered for type: %s", msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    body,
		EnqueuedAt: r.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	status, err := json.Marshal(JobStatus{ID: msg.ID, Type: msgType, State: StateQueued, UpdatedAt: msg.EnqueuedAt})
	if err != nil {
		return "", fmt.Errorf("marshal status: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.statusKey(msg.ID), status, r.config.StatusTTL)
	pipe.LPush(ctx, r.queueKey(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return msg.ID, nil
}

func (r *RedisQueue) Status(ctx context.Context, id string) (*JobStatus, error) {
	data, err := r.client.Get(ctx, r.statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	var st JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("queue worker stopping", logger.Int("worker_id", id))
			return
		default:
			r.processNext()
		}
	}
}

func (r *RedisQueue) processNext() {
	result, err := r.client.BRPop(r.ctx, time.Second, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("brpop error", logger.Error(err))
		select {
		case <-r.ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("unmarshal message", logger.Error(err))
		return
	}
	r.process(msg)
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.setStatus(msg, StateFailed, nil, "no job registered")
		return
	}

	r.setStatus(msg, StateRunning, nil, "")
	ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
	start := time.Now()
	res, err := job.Handle(ctx, msg.Payload)
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) && r.ctx.Err() != nil {
			r.logger.Warn("job cancelled by shutdown", logger.String("id", msg.ID), logger.String("job", job.Name()))
			r.requeue(msg)
			return
		}
		r.handleError(msg, job, err)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		r.setStatus(msg, StateFailed, nil, fmt.Sprintf("encode result: %v", err))
		return
	}
	r.setStatus(msg, StateDone, body, "")
	r.logger.Info("job done",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Duration("elapsed_ms", time.Since(start)))
}

func (r *RedisQueue) handleError(msg Message, job Job, err error) {
	r.logger.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts < r.config.RetryLimit {
		msg.Attempts++
		r.setStatus(msg, StateRetry, nil, err.Error())
		r.scheduleRetry(msg, r.now().Add(r.config.RetryDelay))
		return
	}
	r.setStatus(msg, StateFailed, nil, err.Error())
	r.moveToDeadLetter(msg)
}

func (r *RedisQueue) setStatus(msg Message, state State, result json.RawMessage, errMsg string) {
	st := JobStatus{
		ID:        msg.ID,
		Type:      msg.Type,
		State:     state,
		Attempts:  msg.Attempts,
		Error:     errMsg,
		Result:    result,
		UpdatedAt: r.now().UTC(),
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Set(ctx, r.statusKey(msg.ID), data, r.config.StatusTTL).Err(); err != nil {
		r.logger.Error("set job status", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) requeue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.queueKey(), data).Err(); err != nil {
		r.logger.Error("requeue", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) scheduleRetry(msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal retry", logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.ZAdd(ctx, r.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err(); err != nil {
		r.logger.Error("zadd retry", logger.Error(err))
	}
}

func (r *RedisQueue) moveToDeadLetter(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.LPush(ctx, r.deadLetterKey(), data).Err(); err != nil {
		r.logger.Error("lpush dlq", logger.Error(err))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.moveDueRetries()
		}
	}
}

// moveDueRetries moves retries whose time has come back onto the work list.
func (r *RedisQueue) moveDueRetries() {
	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(r.now().Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("fetch retry messages", logger.Error(err))
		}
		return
	}

	for _, data := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.retryKey(), data)
		pipe.LPush(r.ctx, r.queueKey(), data)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("move retry to queue", logger.Error(err))
		}
	}
}

func (r *RedisQueue) queueKey() string { return r.keyPrefix + ":messages" }

func (r *RedisQueue) retryKey() string { return r.keyPrefix + ":retry" }

func (r *RedisQueue) deadLetterKey() string { return r.keyPrefix + ":dlq" }

func (r *RedisQueue) statusKey(id string) string { return r.keyPrefix + ":status:" + id }
