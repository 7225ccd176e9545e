package orch

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/Parley/internal/metrics"
)

type writeJob struct {
	op   string
	fn   func(ctx context.Context) error
	then func(error)
}

// Writer runs store writes off the routing path. Writes sharing a key go
// to the same lane and complete in submission order. Submit never blocks;
// a full lane drops the write.
type Writer struct {
	lanes   []chan writeJob
	workers *pool.Pool
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewWriter(workers, queue int, timeout time.Duration) *Writer {
	if workers <= 0 {
		workers = 1
	}
	depth := max(queue/workers, 1)
	w := &Writer{
		lanes:   make([]chan writeJob, workers),
		workers: pool.New().WithMaxGoroutines(workers),
		timeout: timeout,
	}
	for i := range w.lanes {
		lane := make(chan writeJob, depth)
		w.lanes[i] = lane
		w.workers.Go(func() { w.drain(lane) })
	}
	return w
}

func (w *Writer) lane(key string) chan writeJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return w.lanes[h.Sum32()%uint32(len(w.lanes))]
}

// Submit queues fn under key. then, if set, runs on the worker with fn's result.
func (w *Writer) Submit(key, op string, fn func(ctx context.Context) error, then func(error)) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.lane(key) <- writeJob{op: op, fn: fn, then: then}:
		return true
	default:
		metrics.PersistQueueDropped.Inc()
		log.Warn().Str("module", "persist").Str("op", op).Msg("write queue full, dropping")
		return false
	}
}

func (w *Writer) drain(lane chan writeJob) {
	for j := range lane {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := j.fn(ctx)
		cancel()
		if err != nil {
			metrics.PersistFailures.WithLabelValues(j.op).Inc()
			log.Error().Err(err).Str("module", "persist").Str("op", j.op).Msg("write failed")
		}
		if j.then != nil {
			j.then(err)
		}
	}
}

// Close stops accepting writes and waits for queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, lane := range w.lanes {
		close(lane)
	}
	w.mu.Unlock()
	w.workers.Wait()
}
