package usecase

import (
	"context"
	"fmt"
	"sync"

	"TradeCore/internal/domain/errs"
	"TradeCore/internal/domain/models"
	drepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/queue"
)

const tradeRecordType = "trade_record"

// Enqueuer is the part of the work queue the recorder writes through.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
	Drain(ctx context.Context) error
}

// TradeRecorder persists trade records off the decision path. Records that
// exhaust their queue attempts land in a bounded retry buffer which Flush
// replays.
type TradeRecorder struct {
	store   drepo.TradeStore
	q       Enqueuer
	metrics drepo.Metrics
	events  drepo.EventSink
	l       *applogger.Logger

	mu       sync.Mutex
	retry    []models.TradeRecord
	maxRetry int
}

var _ queue.Job = (*TradeRecorder)(nil)

func NewTradeRecorder(store drepo.TradeStore, metrics drepo.Metrics, events drepo.EventSink, maxRetry int, l *applogger.Logger) *TradeRecorder {
	if l == nil {
		l = applogger.NewNop()
	}
	if maxRetry <= 0 {
		maxRetry = 1000
	}
	return &TradeRecorder{
		store:    store,
		metrics:  metrics,
		events:   events,
		maxRetry: maxRetry,
		l:        l.With(applogger.String("component", "trade_recorder")),
	}
}

// Attach routes writes through q. Without a queue, Record writes inline.
func (r *TradeRecorder) Attach(q Enqueuer) { r.q = q }

func (r *TradeRecorder) Name() string { return "trade_recorder" }
func (r *TradeRecorder) Type() string { return tradeRecordType }

// Handle is the queue job body.
func (r *TradeRecorder) Handle(ctx context.Context, payload interface{}) error {
	rec, err := queue.ParsePayload[models.TradeRecord](payload)
	if err != nil {
		return err
	}
	return r.store.AppendTradeRecord(ctx, *rec)
}

// DeadLetter buffers a record whose queue attempts are exhausted.
func (r *TradeRecorder) DeadLetter(msg queue.Message, err error) {
	rec, perr := queue.ParsePayload[models.TradeRecord](msg.Payload)
	if perr != nil {
		r.l.Error("dead letter payload unreadable", applogger.Error(perr))
		return
	}
	r.buffer(context.Background(), *rec, err)
}

// Record hands rec to the queue and returns immediately.
func (r *TradeRecorder) Record(ctx context.Context, rec models.TradeRecord) {
	if r.q == nil {
		if err := r.store.AppendTradeRecord(ctx, rec); err != nil {
			r.buffer(ctx, rec, err)
		}
		return
	}
	if err := r.q.Enqueue(ctx, tradeRecordType, rec); err != nil {
		r.buffer(ctx, rec, err)
	}
}

// Pending is the size of the retry buffer.
func (r *TradeRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retry)
}

// Flush waits for queued writes and replays the retry buffer. Records that
// still fail stay buffered.
func (r *TradeRecorder) Flush(ctx context.Context) error {
	if r.q != nil {
		if err := r.q.Drain(ctx); err != nil {
			r.l.Warn("queue not drained before flush", applogger.Error(err))
		}
	}

	r.mu.Lock()
	batch := r.retry
	r.retry = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	var failed []models.TradeRecord
	var lastErr error
	for _, rec := range batch {
		if err := r.store.AppendTradeRecord(ctx, rec); err != nil {
			failed = append(failed, rec)
			lastErr = err
		}
	}

	r.mu.Lock()
	r.retry = append(failed, r.retry...)
	r.trimLocked()
	r.mu.Unlock()

	r.l.Info("retry buffer flushed", applogger.Int("written", len(batch)-len(failed)), applogger.Int("remaining", len(failed)))
	if lastErr != nil {
		return errs.Wrap(errs.KindPersistence, fmt.Sprintf("%d trade records still pending", len(failed)), lastErr)
	}
	return nil
}

func (r *TradeRecorder) buffer(ctx context.Context, rec models.TradeRecord, cause error) {
	r.mu.Lock()
	r.retry = append(r.retry, rec)
	dropped := r.trimLocked()
	size := len(r.retry)
	r.mu.Unlock()

	r.l.Warn("trade record buffered for retry",
		applogger.String("trade_id", rec.TradeID),
		applogger.String("symbol", rec.Symbol),
		applogger.Int("buffered", size),
		applogger.Error(cause),
	)
	if r.metrics != nil {
		r.metrics.RecordError("persistence")
	}
	if dropped > 0 {
		r.l.Error("retry buffer full, oldest records dropped", applogger.Int("dropped", dropped))
	}
	if r.events != nil {
		r.events.Emit(ctx, models.Event{
			Type:   models.EventPersistenceFailed,
			Symbol: rec.Symbol,
			Reason: cause.Error(),
			Data:   map[string]interface{}{"trade_id": rec.TradeID, "buffered": size},
			At:     rec.CreatedAt,
		})
	}
}

func (r *TradeRecorder) trimLocked() int {
	over := len(r.retry) - r.maxRetry
	if over <= 0 {
		return 0
	}
	r.retry = append([]models.TradeRecord(nil), r.retry[over:]...)
	return over
}
