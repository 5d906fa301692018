// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/metrics"
)

// QueuedSinkConfig configures a QueuedSink.
type QueuedSinkConfig struct {
	// QueueSize is the size of the async event queue. Default: 1000
	QueueSize int
	// WorkerCount is the number of async processing workers. Default: 1
	WorkerCount int
	// WriteTimeout bounds a single write to the underlying sink. Default: 5s
	WriteTimeout time.Duration
	// CircuitBreakerThreshold is the number of consecutive failures after
	// which events are dropped. Default: 5
	CircuitBreakerThreshold int
	// CircuitBreakerResetTime is how long events are dropped before the sink
	// is tried again. Default: 30s
	CircuitBreakerResetTime time.Duration
}

func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:               1000,
		WorkerCount:             1,
		WriteTimeout:            5 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerResetTime: 30 * time.Second,
	}
}

// QueuedSink decouples a slow sink from request handling. Write never blocks;
// events are dropped when the queue is full or the sink keeps failing.
type QueuedSink struct {
	sink   Sink
	queue  chan *Event
	config QueuedSinkConfig
	logger *zap.Logger
	now    func() time.Time

	dropped          atomic.Int64
	processed        atomic.Int64
	consecutiveFails atomic.Int32
	openedAt         atomic.Int64 // unix nanos, 0 while closed

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	defaults := DefaultQueuedSinkConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaults.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = defaults.CircuitBreakerThreshold
	}
	if cfg.CircuitBreakerResetTime <= 0 {
		cfg.CircuitBreakerResetTime = defaults.CircuitBreakerResetTime
	}

	qs := &QueuedSink{
		sink:   sink,
		queue:  make(chan *Event, cfg.QueueSize),
		config: cfg,
		logger: logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
		now:    time.Now,
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		qs.wg.Add(1)
		go qs.processQueue(i)
	}
	return qs
}

// Write enqueues an event for async processing.
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if qs.closed {
		return fmt.Errorf("queued sink %s is closed", qs.sink.Name())
	}

	if opened := qs.openedAt.Load(); opened != 0 {
		if qs.now().Sub(time.Unix(0, opened)) < qs.config.CircuitBreakerResetTime {
			qs.drop("circuit_open")
			return nil
		}
		if qs.openedAt.CompareAndSwap(opened, 0) {
			qs.logger.Info("retrying audit sink after circuit breaker timeout")
			qs.consecutiveFails.Store(0)
		}
	}

	select {
	case qs.queue <- event:
	default:
		qs.drop("queue_full")
		qs.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
	return nil
}

func (qs *QueuedSink) drop(reason string) {
	qs.dropped.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), reason).Inc()
}

func (qs *QueuedSink) processQueue(workerID int) {
	defer qs.wg.Done()

	for event := range qs.queue {
		ctx, cancel := context.WithTimeout(context.Background(), qs.config.WriteTimeout)
		err := qs.sink.Write(ctx, event)
		cancel()

		if err == nil {
			qs.processed.Add(1)
			qs.consecutiveFails.Store(0)
			continue
		}
		fails := qs.consecutiveFails.Add(1)
		qs.logger.Error("failed to write audit event",
			zap.Int("worker", workerID),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
			zap.Int32("consecutive_fails", fails))
		if int(fails) >= qs.config.CircuitBreakerThreshold &&
			qs.openedAt.CompareAndSwap(0, qs.now().UnixNano()) {
			qs.logger.Warn("circuit breaker opened for audit sink", zap.Int32("consecutive_fails", fails))
		}
	}
}

// Stats returns the number of processed and dropped events.
func (qs *QueuedSink) Stats() (processed, dropped int64) {
	return qs.processed.Load(), qs.dropped.Load()
}

// Close drains the queue and closes the underlying sink.
func (qs *QueuedSink) Close() error {
	qs.mu.Lock()
	if qs.closed {
		qs.mu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.mu.Unlock()

	qs.wg.Wait()
	return qs.sink.Close()
}

func (qs *QueuedSink) Name() string {
	return qs.sink.Name()
}
