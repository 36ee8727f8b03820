package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"slimmon-go/internal/lms"
)

// fakeCaller is an instrumented RPC transport. It tracks concurrent
// invocations so tests can assert the at-most-one-in-flight invariant, and
// resolves with Aborted on context cancellation as the contract requires.
type fakeCaller struct {
	mu       sync.Mutex
	handlers func(target string, cmd []interface{}) (*lms.Response, error)
	delay    time.Duration

	inflight      int32
	maxConcurrent int32
	calls         []fakeCall
}

type fakeCall struct {
	target string
	cmd    []interface{}
}

func (f *fakeCaller) Send(ctx context.Context, _ lms.ConnectParams, target string, cmd []interface{}) (*lms.Response, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		max := atomic.LoadInt32(&f.maxConcurrent)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxConcurrent, max, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{target: target, cmd: cmd})
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return &lms.Response{Aborted: true}, nil
		}
	}
	if ctx.Err() != nil {
		return &lms.Response{Aborted: true}, nil
	}
	return f.handlers(target, cmd)
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// statusCallCount counts full status requests (the tagged refresh RPC).
func (f *fakeCaller) statusCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c.cmd) == 4 {
			n++
		}
	}
	return n
}

// isProbe reports whether cmd is the serverstatus classification probe.
func isProbe(cmd []interface{}) bool {
	return len(cmd) == 1 && cmd[0] == "serverstatus"
}

// isSyncResolve reports whether cmd is the bare status call used for
// sync-master resolution.
func isSyncResolve(cmd []interface{}) bool {
	return len(cmd) == 1 && cmd[0] == "status"
}

// fakeSource is a scripted notification source.
type fakeSource struct {
	notifCh   chan lms.Notification
	discCh    chan struct{}
	failStart bool
	startGate chan struct{} // when set, Start blocks until it is closed

	started int32
	stops   int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		notifCh: make(chan lms.Notification, 16),
		discCh:  make(chan struct{}, 1),
	}
}

func (s *fakeSource) Start() error {
	if s.failStart {
		return errAlwaysFails
	}
	atomic.AddInt32(&s.started, 1)
	if s.startGate != nil {
		<-s.startGate
	}
	return nil
}

func (s *fakeSource) Notifications() <-chan lms.Notification { return s.notifCh }
func (s *fakeSource) Disconnects() <-chan struct{}           { return s.discCh }

func (s *fakeSource) Stop() error {
	atomic.AddInt32(&s.stops, 1)
	return nil
}

type staticError string

func (e staticError) Error() string { return string(e) }

const errAlwaysFails = staticError("subscription refused")

func testPlayer() lms.Player {
	return lms.Player{
		ID: "00:04:20:aa:bb:cc",
		Server: lms.ServerRef{
			Host:    "localhost",
			RPCPort: 9000,
			CLIPort: 9090,
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
