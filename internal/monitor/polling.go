package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pollingStrategy refreshes proactively on a fixed-period timer. Ticks never
// overlap: each tick's refresh supersedes rather than queues behind a still
// outstanding one, via the coordinator's cancel-then-start discipline.
type pollingStrategy struct {
	coordinator *Coordinator
	tracker     *SyncTracker
	interval    time.Duration
	logger      *zap.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func newPollingStrategy(coordinator *Coordinator, tracker *SyncTracker, interval time.Duration, logger *zap.Logger) *pollingStrategy {
	return &pollingStrategy{
		coordinator: coordinator,
		tracker:     tracker,
		interval:    interval,
		logger:      logger.Named("polling"),
	}
}

func (p *pollingStrategy) start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.logger.Info("Polling mode active", zap.Duration("interval", p.interval))
	go p.run(ctx)
	return nil
}

func (p *pollingStrategy) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tracker.RefreshFromPoll(ctx)
			p.coordinator.Refresh(ctx)
		}
	}
}

// stop halts the ticker and aborts any outstanding refresh. Idempotent.
func (p *pollingStrategy) stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
	p.coordinator.AbortCurrentAndPending()
}
