package monitor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"slimmon-go/internal/lms"
)

// closedChan is the pre-settled channel returned for synchronous updates.
var closedChan = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// SyncTracker resolves and maintains the identity of the monitored player's
// current sync master. The empty string means unsynced or self-mastered; the
// player's own identifier is never stored as its own master.
type SyncTracker struct {
	mu     sync.Mutex
	master string

	rpc    lms.Caller
	player lms.Player
	creds  lms.Credentials
	logger *zap.Logger
}

// NewSyncTracker creates a tracker with no known sync master.
func NewSyncTracker(rpc lms.Caller, player lms.Player, creds lms.Credentials, logger *zap.Logger) *SyncTracker {
	return &SyncTracker{
		rpc:    rpc,
		player: player,
		creds:  creds,
		logger: logger.Named("syncgroup"),
	}
}

// Master returns the currently tracked sync master, or "" if absent.
func (t *SyncTracker) Master() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.master
}

// SetMaster replaces the tracked value, normalizing self to absent.
func (t *SyncTracker) SetMaster(master string) {
	if master == t.player.ID {
		master = ""
	}
	t.mu.Lock()
	t.master = master
	t.mu.Unlock()
}

// Resolve asks the server for the player's sync master. It does not store
// the result; a transport error is returned with its cause so callers can
// log and keep the current known state.
func (t *SyncTracker) Resolve(ctx context.Context) (string, error) {
	params := lms.BuildConnectParams(t.player.Server, t.creds, lms.ProtoRPC)
	resp, err := t.rpc.Send(ctx, params, t.player.ID, []interface{}{"status"})
	if err != nil {
		return "", fmt.Errorf("sync master resolution failed: %w", err)
	}
	if resp.Aborted {
		return "", context.Canceled
	}
	if resp.Result == nil {
		return "", lms.ErrEmptyResult
	}

	master := asString(resp.Result["sync_master"])
	if master == t.player.ID {
		master = ""
	}
	return master, nil
}

// RefreshFromPoll re-resolves the sync master and replaces the tracked value
// if it changed, logging the change. Resolution errors leave the current
// state untouched.
func (t *SyncTracker) RefreshFromPoll(ctx context.Context) {
	master, err := t.Resolve(ctx)
	if err != nil {
		t.logger.Error("Error resolving sync master", zap.Error(err))
		return
	}

	t.mu.Lock()
	prev := t.master
	t.master = master
	t.mu.Unlock()

	if master != prev {
		if master != "" {
			t.logger.Info("Sync master changed", zap.String("sync_master", master))
		} else {
			t.logger.Info("Player removed from sync group")
		}
	}
}

// HandleSyncNotification applies one "sync" notification to the tracked
// state. The returned channel is settled once the update is complete: it is
// already closed for the synchronous cases, and closes after the asynchronous
// re-resolution when the current master itself left its group. Callers that
// schedule a refresh in reaction to the same notification must wait on it so
// the refresh observes up-to-date sync state.
//
// When the re-resolution races with a later sync notification, the last
// value resolved or received wins; the tracked state is only provisional
// until the in-flight resolution settles.
func (t *SyncTracker) HandleSyncNotification(ctx context.Context, n lms.Notification) <-chan struct{} {
	if n.Kind != "sync" || len(n.Params) == 0 {
		return closedChan
	}

	current := t.Master()

	switch {
	case n.Params[0] == "-" && n.PlayerID == t.player.ID:
		// Unsynced.
		t.logger.Info("Player removed from sync group")
		t.SetMaster("")

	case n.Params[0] == "-" && current != "" && n.PlayerID == current:
		// The sync master itself left its group; the player may now be
		// slaved to a different master or to nobody, so re-resolve.
		t.logger.Info("Sync master removed from sync group",
			zap.String("sync_master", current))
		settled := make(chan struct{})
		go func() {
			defer close(settled)
			master, err := t.Resolve(ctx)
			if err != nil {
				t.logger.Error("Error resolving sync master", zap.Error(err))
				return
			}
			t.SetMaster(master)
			if master != "" {
				t.logger.Info("Player now in sync group",
					zap.String("sync_master", master))
			} else {
				t.logger.Info("Player now unsynced or master of its own group")
			}
		}()
		return settled

	case n.PlayerID == t.player.ID && n.Params[0] != "-":
		// Joined a sync group.
		t.SetMaster(n.Params[0])
		t.logger.Info("Player joined sync group",
			zap.String("sync_master", t.Master()))
	}

	return closedChan
}
