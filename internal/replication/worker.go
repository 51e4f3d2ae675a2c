// Package replication forwards persisted mutations to a secondary target.
// Delivery is best-effort, single-secondary and at-least-once; ordering
// within one tenant is FIFO only in the absence of retries.
package replication

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrQueueFull is the only enqueue error callers see; drops are counted,
// never thrown beyond this signal.
var ErrQueueFull = errors.New("replication queue full")

type Backpressure string

const (
	BackpressureOK       Backpressure = "ok"
	BackpressureHigh     Backpressure = "high"
	BackpressureCritical Backpressure = "critical"

	highWatermark     = 0.75
	criticalWatermark = 0.90
)

// Item is one queued mutation. Ephemeral: it lives only in the in-memory
// queue and is dropped on successful delivery.
type Item struct {
	ID         string                 `json:"id"`
	Table      string                 `json:"table"`
	Op         string                 `json:"op"`
	Payload    map[string]interface{} `json:"payload"`
	Tenant     string                 `json:"tenant"`
	EnqueuedAt time.Time              `json:"enqueued_at"`

	attempts int
}

// Recorder receives replication delivery metrics.
type Recorder interface {
	RecordReplicationOp(success bool)
	RecordReplicationDrop()
	SetReplicationQueueDepth(depth, capacity int)
}

type noopRecorder struct{}

func (noopRecorder) RecordReplicationOp(bool)         {}
func (noopRecorder) RecordReplicationDrop()           {}
func (noopRecorder) SetReplicationQueueDepth(int, int) {}

type Stats struct {
	Enabled       bool   `json:"enabled"`
	Target        string `json:"target"`
	QueueLength   int    `json:"queue_length"`
	MaxQueue      int    `json:"max_queue"`
	Backpressure  string `json:"backpressure"`
	OpsTotal      uint64 `json:"ops_total"`
	FailuresTotal uint64 `json:"failures_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
}

// Worker drains a bounded queue of mutations into a pluggable sink with
// exponential backoff and jitter between failed attempts.
type Worker struct {
	queue    chan *Item
	capacity int
	sink     Sink
	enabled  bool

	baseBackoff time.Duration
	maxBackoff  time.Duration
	backoff     time.Duration

	opsTotal      atomic.Uint64
	failuresTotal atomic.Uint64
	droppedTotal  atomic.Uint64

	recorder Recorder
	logger   *zap.Logger
}

func NewWorker(sink Sink, maxQueue int, baseBackoff, maxBackoff time.Duration, logger *zap.Logger, recorder Recorder) *Worker {
	if maxQueue <= 0 {
		maxQueue = 500
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Worker{
		queue:       make(chan *Item, maxQueue),
		capacity:    maxQueue,
		sink:        sink,
		enabled:     sink != nil,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		backoff:     baseBackoff,
		recorder:    recorder,
		logger:      logger,
	}
}

func (w *Worker) Enabled() bool { return w.enabled }

// Enqueue never blocks. A full queue returns ErrQueueFull and counts the
// drop; replication being disabled silently discards.
func (w *Worker) Enqueue(table, op string, payload map[string]interface{}, tenant string) error {
	if !w.enabled {
		return nil
	}
	item := &Item{
		ID:         uuid.New().String(),
		Table:      table,
		Op:         op,
		Payload:    payload,
		Tenant:     tenant,
		EnqueuedAt: time.Now().UTC(),
	}
	select {
	case w.queue <- item:
		w.recorder.SetReplicationQueueDepth(len(w.queue), w.capacity)
		return nil
	default:
		w.droppedTotal.Add(1)
		w.recorder.RecordReplicationDrop()
		w.logger.Warn("replication queue full, dropping item",
			zap.String("table", table),
			zap.String("tenant", tenant),
		)
		return ErrQueueFull
	}
}

// Run drains the queue until the context is cancelled. Backoff doubles on
// each consecutive failure and resets to base after any success.
func (w *Worker) Run(ctx context.Context) {
	if !w.enabled {
		return
	}
	w.logger.Info("replication worker started",
		zap.String("target", w.sink.Describe()),
		zap.Int("max_queue", w.capacity),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("replication worker stopped",
				zap.Int("queued", len(w.queue)),
			)
			return
		case item := <-w.queue:
			w.recorder.SetReplicationQueueDepth(len(w.queue), w.capacity)
			if w.deliver(ctx, item) {
				w.backoff = w.baseBackoff
				continue
			}
			// A retried item goes to the back of the queue.
			w.requeue(item)
			w.sleep(ctx)
			w.backoff = min(w.backoff*2, w.maxBackoff)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, item *Item) bool {
	item.attempts++
	err := w.sink.Deliver(ctx, item)
	w.opsTotal.Add(1)
	if err != nil {
		w.failuresTotal.Add(1)
		w.recorder.RecordReplicationOp(false)
		w.logger.Warn("replication delivery failed",
			zap.String("item_id", item.ID),
			zap.String("table", item.Table),
			zap.Int("attempts", item.attempts),
			zap.Error(err),
		)
		return false
	}
	w.recorder.RecordReplicationOp(true)
	return true
}

func (w *Worker) requeue(item *Item) {
	select {
	case w.queue <- item:
	default:
		w.droppedTotal.Add(1)
		w.recorder.RecordReplicationDrop()
		w.logger.Error("replication queue full on retry, dropping item",
			zap.String("item_id", item.ID),
		)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	wait := w.backoff
	if wait > w.maxBackoff {
		wait = w.maxBackoff
	}
	wait += time.Duration(rand.Int63n(int64(w.baseBackoff)))
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// Drain makes one best-effort delivery pass over whatever is still queued,
// used during graceful shutdown. No retries.
func (w *Worker) Drain(ctx context.Context) int {
	if !w.enabled {
		return 0
	}
	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered
		case item := <-w.queue:
			if w.deliver(ctx, item) {
				delivered++
			}
		default:
			return delivered
		}
	}
}

// Backpressure classifies queue occupancy: <75% ok, 75-90% high, >=90%
// critical.
func (w *Worker) Backpressure() Backpressure {
	return classify(float64(len(w.queue)) / float64(w.capacity))
}

// BackpressureRatio is the raw occupancy for hysteresis decisions.
func (w *Worker) BackpressureRatio() float64 {
	return float64(len(w.queue)) / float64(w.capacity)
}

func classify(ratio float64) Backpressure {
	switch {
	case ratio >= criticalWatermark:
		return BackpressureCritical
	case ratio >= highWatermark:
		return BackpressureHigh
	default:
		return BackpressureOK
	}
}

func (w *Worker) Stats() Stats {
	target := ""
	if w.sink != nil {
		target = w.sink.Describe()
	}
	return Stats{
		Enabled:       w.enabled,
		Target:        target,
		QueueLength:   len(w.queue),
		MaxQueue:      w.capacity,
		Backpressure:  string(w.Backpressure()),
		OpsTotal:      w.opsTotal.Load(),
		FailuresTotal: w.failuresTotal.Load(),
		DroppedTotal:  w.droppedTotal.Load(),
	}
}
