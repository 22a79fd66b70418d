package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/bitunix_signal_bot/internal/domain"
	"go.uber.org/zap"
)

// DefaultQueueCapacity bounds each symbol's signal backlog.
const DefaultQueueCapacity = 500

// SignalProcessor handles one signal end to end.
type SignalProcessor interface {
	Process(ctx context.Context, sig *domain.Signal) error
}

// SignalDispatcher fans signals out to one worker goroutine per symbol,
// so signals for the same symbol run strictly in arrival order while
// different symbols trade in parallel. Enqueue never blocks: a full
// queue is reported to the caller instead of stalling the webhook.
type SignalDispatcher struct {
	processor SignalProcessor
	capacity  int
	logger    *zap.Logger

	mu      sync.Mutex
	queues  map[string]chan *domain.Signal
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSignalDispatcher(processor SignalProcessor, capacity int, logger *zap.Logger) *SignalDispatcher {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalDispatcher{
		processor: processor,
		capacity:  capacity,
		logger:    logger,
		queues:    make(map[string]chan *domain.Signal),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue hands a signal to the symbol's worker, starting one on first
// use. Returns ErrQueueFull when the symbol's buffer is at capacity.
func (d *SignalDispatcher) Enqueue(sig *domain.Signal) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher stopped")
	}
	q, ok := d.queues[sig.Symbol]
	if !ok {
		q = make(chan *domain.Signal, d.capacity)
		d.queues[sig.Symbol] = q
		d.wg.Add(1)
		go d.worker(sig.Symbol, q)
	}
	d.mu.Unlock()

	select {
	case q <- sig:
		return nil
	default:
		return fmt.Errorf("%s: %w", sig.Symbol, domain.ErrQueueFull)
	}
}

// QueueDepth reports how many signals are waiting for the symbol.
func (d *SignalDispatcher) QueueDepth(symbol string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[symbol]; ok {
		return len(q)
	}
	return 0
}

// Stop rejects further signals, cancels in-flight processing and waits
// for the workers to exit. Signals still buffered at that point are
// discarded; a shutting-down bot must not start new order sequences.
func (d *SignalDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *SignalDispatcher) worker(symbol string, q chan *domain.Signal) {
	defer d.wg.Done()

	d.logger.Info("Signal worker started", zap.String("symbol", symbol))

	for sig := range q {
		if d.ctx.Err() != nil {
			d.logger.Warn("Discarding signal, dispatcher stopping",
				zap.String("symbol", symbol), zap.String("kind", string(sig.Kind)))
			continue
		}
		if err := d.processor.Process(d.ctx, sig); err != nil {
			d.logger.Error("Signal processing failed",
				zap.String("symbol", symbol),
				zap.String("kind", string(sig.Kind)),
				zap.Error(err))
		}
	}

	d.logger.Info("Signal worker stopped", zap.String("symbol", symbol))
}
