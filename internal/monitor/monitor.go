package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"slimmon-go/internal/config"
	"slimmon-go/internal/events"
	"slimmon-go/internal/lms"
)

// State represents the monitor lifecycle state.
type State int

const (
	// StateCreated is the initial state before Start.
	StateCreated State = iota
	// StateDetecting means the server classification probe is running.
	StateDetecting
	// StateActiveSubscribed is steady state with a live notification channel.
	StateActiveSubscribed
	// StateActivePolling is steady state on the poll timer.
	StateActivePolling
	// StateStopped is terminal; a stopped monitor is never restarted.
	StateStopped
)

// String returns the string representation of the lifecycle state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateDetecting:
		return "Detecting"
	case StateActiveSubscribed:
		return "ActiveSubscribed"
	case StateActivePolling:
		return "ActivePolling"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// validTransitions defines allowed lifecycle transitions.
var validTransitions = map[State][]State{
	StateCreated:   {StateDetecting},
	StateDetecting: {StateActiveSubscribed, StateActivePolling, StateStopped},
	// Subscribed can only degrade to polling via the fallback path.
	StateActiveSubscribed: {StateActivePolling, StateStopped},
	StateActivePolling:    {StateStopped},
	StateStopped:          {},
}

// SourceFactory builds a notification source for the given connection
// parameters and event kinds. Tests inject fakes through it.
type SourceFactory func(params lms.ConnectParams, kinds []string) lms.NotificationSource

// Options configures a Monitor beyond its player and credentials. Zero
// values select the real wire clients and the contract defaults.
type Options struct {
	// RPC overrides the status/probe transport.
	RPC lms.Caller
	// NewSource overrides the notification source factory.
	NewSource SourceFactory
	// DebounceWindow overrides the notification debounce window.
	DebounceWindow time.Duration
	// PollInterval overrides the polling period.
	PollInterval time.Duration
	// Logger is the parent logger. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// Monitor is the top-level player-status monitor: one instance tracks one
// player for one session. It classifies the server, activates exactly one
// refresh strategy, and emits update/disconnect events through the bus.
type Monitor struct {
	mu    sync.Mutex
	state State

	player lms.Player
	creds  lms.Credentials
	bus    *events.Bus
	logger *zap.Logger

	classification Classification

	rpc         lms.Caller
	newSource   SourceFactory
	coordinator *Coordinator
	tracker     *SyncTracker
	detector    *Detector
	strategy    interface {
		stop()
	}

	debounce     time.Duration
	pollInterval time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc
}

// New creates a monitor for one player. The bus is owned by the host; the
// monitor only publishes to it.
func New(player lms.Player, creds lms.Credentials, bus *events.Bus, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("monitor").With(zap.String("player", player.ID))

	rpc := opts.RPC
	if rpc == nil {
		rpc = lms.NewRPCClient(logger)
	}

	newSource := opts.NewSource
	if newSource == nil {
		newSource = func(params lms.ConnectParams, kinds []string) lms.NotificationSource {
			return lms.NewNotificationListener(params, kinds, logger)
		}
	}

	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = config.DefaultDebounceWindow
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = config.DefaultPollInterval
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	m := &Monitor{
		state:        StateCreated,
		player:       player,
		creds:        creds,
		bus:          bus,
		logger:       logger,
		rpc:          rpc,
		newSource:    newSource,
		debounce:     debounce,
		pollInterval: pollInterval,
		runCtx:       runCtx,
		runCancel:    runCancel,
	}

	m.coordinator = NewCoordinator(rpc, player, creds, m.emitUpdate, logger)
	m.tracker = NewSyncTracker(rpc, player, creds, logger)
	m.detector = NewDetector(rpc, player, creds, logger)

	return m
}

// Player returns the monitored player.
func (m *Monitor) Player() lms.Player {
	return m.player
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ServerClassification returns the settled classification, or Unknown before
// detection has run.
func (m *Monitor) ServerClassification() Classification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classification
}

// Start classifies the server, activates one refresh strategy, resolves the
// initial sync master, and issues the first refresh. It returns once the
// first status emission has completed or been abandoned per the error
// policy. Start must be called exactly once per monitor instance.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.transition(StateDetecting); err != nil {
		return err
	}

	classification := m.detector.Detect(ctx)
	m.mu.Lock()
	m.classification = classification
	m.mu.Unlock()

	settled := StateActivePolling
	if classification == AlternateImplementation {
		m.logger.Info("Alternate server implementation detected, using polling mode instead of event subscription")
		m.startPolling()
	} else {
		if err := m.startSubscription(); err != nil {
			m.logger.Error("Failed to start notification listener, falling back to polling mode",
				zap.Error(err))
			m.mu.Lock()
			m.classification = AlternateImplementation
			m.mu.Unlock()
			m.startPolling()
		} else {
			settled = StateActiveSubscribed
		}
	}

	// First sync-master resolution, then first status emission, before the
	// monitor settles into steady state.
	if master, err := m.tracker.Resolve(ctx); err != nil {
		m.logger.Error("Error resolving initial sync master", zap.Error(err))
	} else {
		m.tracker.SetMaster(master)
		if master != "" {
			m.logger.Info("Player in sync group", zap.String("sync_master", master))
		}
	}
	m.coordinator.Refresh(ctx)

	return m.transition(settled)
}

func (m *Monitor) startPolling() {
	p := newPollingStrategy(m.coordinator, m.tracker, m.pollInterval, m.logger)
	_ = p.start(m.runCtx)
	if !m.registerStrategy(p) {
		p.stop()
	}
}

func (m *Monitor) startSubscription() error {
	params := lms.BuildConnectParams(m.player.Server, m.creds, lms.ProtoCLI)
	source := m.newSource(params, subscribedKinds)
	s := newSubscriptionStrategy(source, m.coordinator, m.tracker, m.player,
		m.debounce, m.emitDisconnect, m.logger)
	if err := s.start(m.runCtx); err != nil {
		return err
	}
	if !m.registerStrategy(s) {
		s.stop()
	}
	return nil
}

// registerStrategy installs the freshly started strategy unless a concurrent
// Stop already moved the monitor to Stopped, in which case the caller must
// tear the strategy down itself: Stop has already read a nil strategy and
// will not come back for this one.
func (m *Monitor) registerStrategy(s interface{ stop() }) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return false
	}
	m.strategy = s
	return true
}

// RequestUpdate triggers an immediate, non-debounced refresh. Fire and
// forget; ignored once the monitor is stopped.
func (m *Monitor) RequestUpdate() {
	m.mu.Lock()
	active := m.state == StateActiveSubscribed || m.state == StateActivePolling
	m.mu.Unlock()
	if !active {
		return
	}
	go m.coordinator.Refresh(m.runCtx)
}

// Stop tears down the active strategy and cancels any outstanding request.
// Idempotent; a stopped monitor cannot be restarted.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StateStopped
	strategy := m.strategy
	m.mu.Unlock()

	m.logger.Info("Monitor state changed",
		zap.String("old_state", prev.String()),
		zap.String("new_state", StateStopped.String()))

	if strategy != nil {
		strategy.stop()
	}
	m.runCancel()
	m.coordinator.AbortCurrentAndPending()
}

// transition moves to a new lifecycle state, enforcing the transition table.
// A concurrent Stop wins: transitioning out of Stopped is rejected.
func (m *Monitor) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !transitionAllowed(from, to) {
		return fmt.Errorf("invalid monitor transition from %s to %s", from, to)
	}
	m.state = to

	m.logger.Info("Monitor state changed",
		zap.String("old_state", from.String()),
		zap.String("new_state", to.String()))
	return nil
}

func transitionAllowed(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *Monitor) emitUpdate(status *Status) {
	m.bus.Publish(events.Event{
		Type:     events.PlayerUpdated,
		PlayerID: m.player.ID,
		Status:   status,
	})
}

func (m *Monitor) emitDisconnect() {
	m.bus.Publish(events.Event{
		Type:     events.PlayerDisconnected,
		PlayerID: m.player.ID,
	})
}
