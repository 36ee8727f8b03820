package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"slimmon-go/internal/lms"
)

// subscriptionStrategy refreshes reactively: it holds the server's
// notification channel open and schedules a debounced refresh for every
// notification relevant to the monitored player.
type subscriptionStrategy struct {
	source      lms.NotificationSource
	coordinator *Coordinator
	tracker     *SyncTracker
	player      lms.Player
	debounce    time.Duration
	logger      *zap.Logger

	// onDisconnect is invoked exactly once if the notification channel
	// drops. Reconnection policy belongs to the host.
	onDisconnect func()

	stopOnce sync.Once
	done     chan struct{}
}

func newSubscriptionStrategy(
	source lms.NotificationSource,
	coordinator *Coordinator,
	tracker *SyncTracker,
	player lms.Player,
	debounce time.Duration,
	onDisconnect func(),
	logger *zap.Logger,
) *subscriptionStrategy {
	return &subscriptionStrategy{
		source:       source,
		coordinator:  coordinator,
		tracker:      tracker,
		player:       player,
		debounce:     debounce,
		logger:       logger.Named("subscription"),
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
}

// start opens the subscription. A failure here is returned so the lifecycle
// can fall back to polling.
func (s *subscriptionStrategy) start(ctx context.Context) error {
	if err := s.source.Start(); err != nil {
		return err
	}
	go s.run(ctx)
	return nil
}

func (s *subscriptionStrategy) run(ctx context.Context) {
	for {
		select {
		case n, ok := <-s.source.Notifications():
			if !ok {
				return
			}
			s.handleNotification(ctx, n)

		case <-s.source.Disconnects():
			s.handleDisconnect()
			return

		case <-s.done:
			return
		}
	}
}

// handleNotification applies sync bookkeeping, decides relevance, and
// schedules the debounced refresh. The refresh is ordered after any
// asynchronous sync-master re-resolution triggered by the same notification,
// with a defensive abort on either side of the wait.
func (s *subscriptionStrategy) handleNotification(ctx context.Context, n lms.Notification) {
	settled := closedChan
	if n.Kind == "sync" {
		settled = s.tracker.HandleSyncNotification(ctx, n)
	}

	if !s.relevant(n) {
		return
	}

	s.coordinator.AbortCurrentAndPending()
	go func() {
		select {
		case <-settled:
		case <-s.done:
			return
		}
		s.coordinator.AbortCurrentAndPending()
		s.coordinator.RequestDebounced(ctx, s.debounce)
	}()
}

// relevant reports whether a notification affects the monitored player's
// displayed status: it targets the player itself, it is a sync event (which
// can change the master), or it targets the current sync master.
func (s *subscriptionStrategy) relevant(n lms.Notification) bool {
	if n.PlayerID == s.player.ID || n.Kind == "sync" {
		return true
	}
	master := s.tracker.Master()
	return master != "" && n.PlayerID == master
}

func (s *subscriptionStrategy) handleDisconnect() {
	s.logger.Warn("Notification channel disconnected")
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.source.Stop()
	})
	s.coordinator.AbortCurrentAndPending()
	if s.onDisconnect != nil {
		s.onDisconnect()
	}
}

// stop tears down the listener and any outstanding refresh. Idempotent.
func (s *subscriptionStrategy) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.source.Stop()
	})
	s.coordinator.AbortCurrentAndPending()
}
