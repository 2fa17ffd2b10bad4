package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goacyber/scamhound/internal/metrics"
	"github.com/goacyber/scamhound/internal/pipeline"
)

// PoolConfig controls concurrency and dispatch cadence.
type PoolConfig struct {
	// Workers is the number of concurrent processors. Zero means 4.
	Workers int
	// BatchSize is the dequeue batch per poll. Zero means Workers.
	BatchSize int
	// PollInterval is how long the dispatcher sleeps when the frontier
	// has nothing eligible. Zero means 500ms.
	PollInterval time.Duration
}

// Pool fans frontier entries out to a fixed set of workers. One
// dispatcher goroutine polls the frontier; workers pull entries from a
// shared channel, so one slow target never stalls the batch.
type Pool struct {
	cfg      PoolConfig
	worker   *Worker
	frontier pipeline.Frontier
	logger   *zap.Logger
}

// NewPool builds a Pool around a Worker.
func NewPool(cfg PoolConfig, w *Worker, frontier pipeline.Frontier, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, worker: w, frontier: frontier, logger: logger}
}

// Run blocks until the context is canceled and every in-flight target
// has been processed.
func (p *Pool) Run(ctx context.Context) {
	entries := make(chan pipeline.FrontierEntry)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		log := p.logger.Named("worker").With(zap.Int("index", i))
		go func() {
			defer wg.Done()
			for entry := range entries {
				if err := p.worker.Process(ctx, entry); err != nil {
					log.Debug("target processing failed",
						zap.String("identifier", entry.Identifier),
						zap.Error(err),
					)
				}
			}
		}()
	}

	p.dispatch(ctx, entries)
	close(entries)
	wg.Wait()
}

func (p *Pool) dispatch(ctx context.Context, entries chan<- pipeline.FrontierEntry) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		batch, err := p.frontier.DequeueBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			p.logger.Error("frontier dequeue failed", zap.Error(err))
		}
		metrics.SetFrontierDepth(p.frontier.Len())

		for i, entry := range batch {
			select {
			case entries <- entry:
			case <-ctx.Done():
				for _, undispatched := range batch[i:] {
					p.requeue(undispatched)
				}
				return
			}
		}

		if len(batch) > 0 {
			// Keep draining while work is flowing.
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// requeue hands an undispatched entry back without charging a retry
// attempt; it was never processed, so it stays schedulable as-is.
func (p *Pool) requeue(entry pipeline.FrontierEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.frontier.Requeue(ctx, entry.Identifier); err != nil {
		p.logger.Warn("requeue on shutdown failed",
			zap.String("identifier", entry.Identifier),
			zap.Error(err),
		)
	}
}
