package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"GridVol/internal/domain/models"
	"GridVol/pkg/logger"
)

var ErrBufferFull = errors.New("ingest buffer full")

// PriceSink is where buffered prices are flushed.
type PriceSink interface {
	StorePrices(ctx context.Context, prices []models.PriceObservation) error
}

type IngestMetrics interface {
	RecordIngested(zone string, n int)
	RecordError(kind string)
}

// IngestBuffer sits between the price feed and the store. It validates
// observations, batches them and keeps them across store outages up to
// maxPending.
type IngestBuffer struct {
	sink    PriceSink
	metrics IngestMetrics
	log     *logger.Logger

	batchSize  int
	maxPending int
	flushEvery time.Duration
	backoffMax time.Duration

	mu      sync.Mutex
	pending []models.PriceObservation
	started bool
	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

type BufferOption func(*IngestBuffer)

func WithBatchSize(n int) BufferOption {
	return func(b *IngestBuffer) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithMaxPending caps how many observations are held while the store is down.
func WithMaxPending(n int) BufferOption {
	return func(b *IngestBuffer) {
		if n > 0 {
			b.maxPending = n
		}
	}
}

func WithFlushInterval(d time.Duration) BufferOption {
	return func(b *IngestBuffer) {
		if d > 0 {
			b.flushEvery = d
		}
	}
}

func WithMaxBackoff(d time.Duration) BufferOption {
	return func(b *IngestBuffer) {
		if d > 0 {
			b.backoffMax = d
		}
	}
}

func NewIngestBuffer(sink PriceSink, metrics IngestMetrics, log *logger.Logger, opts ...BufferOption) *IngestBuffer {
	if log == nil {
		log = logger.Nop()
	}
	b := &IngestBuffer{
		sink:       sink,
		metrics:    metrics,
		log:        log,
		batchSize:  500,
		maxPending: 50000,
		flushEvery: 2 * time.Second,
		backoffMax: 30 * time.Second,
		flushCh:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add validates one observation and queues it for the next flush.
func (b *IngestBuffer) Add(o models.PriceObservation) error {
	if err := validatePrice(o); err != nil {
		b.metrics.RecordError("ingest_validate")
		return err
	}
	o.Timestamp = o.Timestamp.UTC()

	b.mu.Lock()
	if len(b.pending) >= b.maxPending {
		b.mu.Unlock()
		b.metrics.RecordError("ingest_buffer_full")
		return ErrBufferFull
	}
	b.pending = append(b.pending, o)
	full := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *IngestBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush writes everything pending. On failure the batch is put back in
// front of anything added meanwhile.
func (b *IngestBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := b.sink.StorePrices(ctx, batch); err != nil {
		b.metrics.RecordError("ingest_flush")
		b.mu.Lock()
		restored := append(batch, b.pending...)
		if len(restored) > b.maxPending {
			dropped := len(restored) - b.maxPending
			restored = restored[dropped:]
			b.metrics.RecordError("ingest_buffer_drop")
			b.log.Warn("ingest buffer overflow, dropping oldest", logger.Int("dropped", dropped))
		}
		b.pending = restored
		b.mu.Unlock()
		return fmt.Errorf("flush prices: %w", err)
	}

	counts := make(map[string]int)
	for _, o := range batch {
		counts[o.Zone]++
	}
	for zone, n := range counts {
		b.metrics.RecordIngested(zone, n)
	}
	return nil
}

// Start runs the periodic flusher until Stop.
func (b *IngestBuffer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.loop(ctx)
}

func (b *IngestBuffer) loop(ctx context.Context) {
	defer close(b.doneCh)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = b.backoffMax
	bo.MaxElapsedTime = 0

	ticker := time.NewTicker(b.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-b.flushCh:
		}

		if err := b.Flush(ctx); err != nil {
			wait := bo.NextBackOff()
			b.log.Warn("price flush failed",
				logger.Int("pending", b.Pending()),
				logger.Duration("retry_in", wait),
				logger.Error(err))
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

// Stop ends the flusher and makes a final flush attempt.
func (b *IngestBuffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return b.Flush(ctx)
	}
	b.started = false
	close(b.stopCh)
	done := b.doneCh
	b.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Flush(ctx)
}

// validatePrice rejects malformed feed rows. Non-positive prices are kept;
// the forecasting core reports them against the run that reads them.
func validatePrice(o models.PriceObservation) error {
	if o.Zone == "" {
		return fmt.Errorf("zone empty")
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if !o.Timestamp.Equal(o.Timestamp.Truncate(models.HourStep)) {
		return fmt.Errorf("timestamp %s not on the hour", o.Timestamp.Format(time.RFC3339))
	}
	if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return fmt.Errorf("price not finite")
	}
	return nil
}
