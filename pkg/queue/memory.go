package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"TradeCore/pkg/logger"
)

var _ Enqueuer = (*MemoryQueue)(nil)

var (
	ErrQueueFull       = errors.New("queue full")
	ErrQueueNotRunning = errors.New("queue not running")
)

// MemoryQueue is an in-process work queue with a fixed worker pool, delayed
// retries and a dead-letter hook.
type MemoryQueue struct {
	logger *logger.Logger
	config QueueConfig
	jobs   map[string]Job
	msgs   chan Message

	mu        sync.RWMutex
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc

	seq        uint64
	pending    int64
	deadLetter DeadLetterFunc
}

type MemoryQueueOption func(*MemoryQueue)

func WithDeadLetter(fn DeadLetterFunc) MemoryQueueOption {
	return func(q *MemoryQueue) { q.deadLetter = fn }
}

func NewMemoryQueue(lgr *logger.Logger, config QueueConfig, opts ...MemoryQueueOption) *MemoryQueue {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	q := &MemoryQueue{
		logger: lgr,
		config: config,
		jobs:   make(map[string]Job),
		msgs:   make(chan Message, config.QueueSize),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterJob registers a handler for its message type.
func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.logger.Info("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return fmt.Errorf("queue already running")
	}
	q.isRunning = true
	q.ctx, q.cancel = context.WithCancel(context.Background())
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("memory queue started", logger.Int("workers", q.config.Workers), logger.Int("size", q.config.QueueSize))
	return nil
}

// Stop drains queued messages until ctx expires, then stops the workers.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	drainErr := q.Drain(ctx)

	q.mu.Lock()
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	for {
		select {
		case msg := <-q.msgs:
			q.dead(msg, ErrQueueNotRunning)
			continue
		default:
		}
		break
	}
	q.logger.Info("memory queue stopped", logger.Int64("pending", atomic.LoadInt64(&q.pending)))
	return drainErr
}

// Enqueue never blocks: a full queue is reported as ErrQueueFull.
func (q *MemoryQueue) Enqueue(_ context.Context, msgType string, payload interface{}) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.isRunning {
		return ErrQueueNotRunning
	}
	if _, ok := q.jobs[msgType]; !ok {
		return fmt.Errorf("no job registered for type: %s", msgType)
	}
	msg := Message{
		ID:        strconv.FormatUint(atomic.AddUint64(&q.seq, 1), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	atomic.AddInt64(&q.pending, 1)
	select {
	case q.msgs <- msg:
		return nil
	default:
		atomic.AddInt64(&q.pending, -1)
		return ErrQueueFull
	}
}

// Pending counts messages queued, in progress or waiting to be retried.
func (q *MemoryQueue) Pending() int {
	return int(atomic.LoadInt64(&q.pending))
}

// Drain waits until nothing is pending.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for atomic.LoadInt64(&q.pending) > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		atomic.AddInt64(&q.pending, -1)
		return
	}

	err := q.handle(job, msg)
	if err == nil {
		atomic.AddInt64(&q.pending, -1)
		return
	}

	q.logger.Warn("message processing error",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts < q.config.RetryLimit {
		msg.Attempts++
		time.AfterFunc(q.config.RetryDelay, func() { q.requeue(msg, job) })
		return
	}
	q.dead(msg, err)
}

func (q *MemoryQueue) handle(job Job, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Handle(q.ctx, msg.Payload)
}

func (q *MemoryQueue) requeue(msg Message, job Job) {
	q.mu.RLock()
	running := q.isRunning
	q.mu.RUnlock()
	if !running {
		q.dead(msg, ErrQueueNotRunning)
		return
	}
	select {
	case q.msgs <- msg:
	default:
		q.dead(msg, ErrQueueFull)
	}
}

func (q *MemoryQueue) dead(msg Message, err error) {
	q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("type", msg.Type), logger.Error(err))
	if q.deadLetter != nil {
		q.deadLetter(msg, err)
	}
	atomic.AddInt64(&q.pending, -1)
}
