package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"slimmon-go/internal/lms"
)

// inflight pairs the cancellation scope of one outstanding status request
// with a channel that closes when the request has fully returned.
type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator issues the status RPC with at-most-one-in-flight semantics.
// Starting a new request always first cancels the prior request and clears
// any pending debounce timer; cancellation of the old request happens-before
// the new one is issued, so the transport never sees two live calls.
type Coordinator struct {
	mu sync.Mutex

	rpc    lms.Caller
	player lms.Player
	creds  lms.Credentials
	logger *zap.Logger

	onStatus func(*Status)

	current *inflight
	timer   *time.Timer
}

// NewCoordinator creates a coordinator. onStatus receives every successfully
// normalized snapshot; suppressed cycles emit nothing.
func NewCoordinator(rpc lms.Caller, player lms.Player, creds lms.Credentials, onStatus func(*Status), logger *zap.Logger) *Coordinator {
	return &Coordinator{
		rpc:      rpc,
		player:   player,
		creds:    creds,
		logger:   logger.Named("coordinator"),
		onStatus: onStatus,
	}
}

// begin clears any pending timer, supersedes the in-flight request if there
// is one, and atomically registers the new request. Waiting for the old
// request's done channel before registering is what keeps the at-most-one
// invariant under concurrent triggers.
func (c *Coordinator) begin(ctx context.Context) (*inflight, context.Context) {
	for {
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		prev := c.current
		if prev == nil {
			reqCtx, cancel := context.WithCancel(ctx)
			cur := &inflight{cancel: cancel, done: make(chan struct{})}
			c.current = cur
			c.mu.Unlock()
			return cur, reqCtx
		}
		c.mu.Unlock()

		prev.cancel()
		<-prev.done
	}
}

// Refresh fetches the current player status and emits the normalized
// snapshot. A cancelled or superseded request is suppressed silently; an
// empty result is logged and suppressed; any other error is logged and the
// cycle abandoned. Nothing propagates to the caller and no retry is
// scheduled here.
func (c *Coordinator) Refresh(ctx context.Context) {
	cur, reqCtx := c.begin(ctx)

	defer func() {
		close(cur.done)
		c.mu.Lock()
		if c.current == cur {
			c.current = nil
		}
		c.mu.Unlock()
		cur.cancel()
	}()

	params := lms.BuildConnectParams(c.player.Server, c.creds, lms.ProtoRPC)
	resp, err := c.rpc.Send(reqCtx, params, c.player.ID, []interface{}{
		"status", "-", 1, statusTags,
	})
	if err != nil {
		c.logger.Error("Error getting player status", zap.Error(err))
		return
	}
	if resp.Aborted {
		return
	}
	if resp.Result == nil {
		c.logger.Warn("Player status request returned no result")
		return
	}

	c.onStatus(ParseStatus(resp.Result))
}

// RequestDebounced cancels any pending timer or in-flight request and
// schedules a refresh after delay, coalescing bursts of triggers into one.
func (c *Coordinator) RequestDebounced(ctx context.Context, delay time.Duration) {
	c.AbortCurrentAndPending()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.timer == t {
			c.timer = nil
		}
		c.mu.Unlock()
		c.Refresh(ctx)
	})
	c.timer = t
}

// AbortCurrentAndPending clears any pending debounce timer, cancels the
// in-flight request if there is one, and waits for it to return. Timer
// invalidation has no effect on a timer that already fired.
func (c *Coordinator) AbortCurrentAndPending() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		cur.cancel()
		<-cur.done
	}
}
