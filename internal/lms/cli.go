package lms

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"slimmon-go/internal/config"
)

// NotificationSource delivers discrete server events and a single disconnect
// signal. The monitor consumes this interface; NotificationListener is the
// real CLI-port implementation and tests provide fakes.
type NotificationSource interface {
	Start() error
	Notifications() <-chan Notification
	Disconnects() <-chan struct{}
	Stop() error
}

// NotificationListener subscribes to server notifications over the CLI port.
// The protocol is newline-delimited with URL-escaped tokens: an optional
// target player id, the notification kind, then the parameters.
type NotificationListener struct {
	params ConnectParams
	kinds  map[string]bool
	order  []string
	logger *zap.Logger

	conn     net.Conn
	notifCh  chan Notification
	discCh   chan struct{}
	stopping chan struct{}
	stopOnce sync.Once
	discOnce sync.Once
}

// NewNotificationListener prepares a listener for the given event kinds.
// Nothing is dialed until Start.
func NewNotificationListener(params ConnectParams, kinds []string, logger *zap.Logger) *NotificationListener {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &NotificationListener{
		params:   params,
		kinds:    set,
		order:    kinds,
		logger:   logger.Named("cli"),
		notifCh:  make(chan Notification, 16),
		discCh:   make(chan struct{}, 1),
		stopping: make(chan struct{}),
	}
}

// Start dials the CLI port, authenticates if credentials are present,
// subscribes, and begins delivering notifications.
func (l *NotificationListener) Start() error {
	conn, err := net.DialTimeout("tcp", l.params.Addr(), config.CLIDialTimeout)
	if err != nil {
		return fmt.Errorf("cli connect to %s failed: %w", l.params.Addr(), err)
	}
	l.conn = conn

	if l.params.Username != "" {
		if err := l.send("login", l.params.Username, l.params.Password); err != nil {
			conn.Close()
			return fmt.Errorf("cli login failed: %w", err)
		}
	}
	if err := l.send("subscribe", strings.Join(l.order, ",")); err != nil {
		conn.Close()
		return fmt.Errorf("cli subscribe failed: %w", err)
	}

	go l.readLoop()

	l.logger.Debug("Notification listener started",
		zap.String("addr", l.params.Addr()),
		zap.Strings("kinds", l.order))
	return nil
}

// Notifications returns the event delivery channel. It is closed when the
// read loop exits.
func (l *NotificationListener) Notifications() <-chan Notification {
	return l.notifCh
}

// Disconnects signals at most once, when the connection drops for any reason
// other than an explicit Stop.
func (l *NotificationListener) Disconnects() <-chan struct{} {
	return l.discCh
}

// Stop tears down the connection. Safe to call more than once; a stop never
// produces a disconnect signal.
func (l *NotificationListener) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stopping)
		if l.conn != nil {
			_ = l.conn.Close()
		}
	})
	return nil
}

func (l *NotificationListener) send(words ...string) error {
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = url.QueryEscape(w)
	}
	if err := l.conn.SetWriteDeadline(time.Now().Add(config.CLIWriteTimeout)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(l.conn, "%s\n", strings.Join(escaped, " "))
	return err
}

func (l *NotificationListener) readLoop() {
	defer close(l.notifCh)

	scanner := bufio.NewScanner(l.conn)
	for scanner.Scan() {
		n, ok := l.parseLine(scanner.Text())
		if !ok {
			continue
		}
		select {
		case l.notifCh <- n:
		case <-l.stopping:
			return
		}
	}

	select {
	case <-l.stopping:
		// Explicit stop, not a disconnect.
	default:
		if err := scanner.Err(); err != nil {
			l.logger.Warn("Notification connection lost", zap.Error(err))
		}
		l.discOnce.Do(func() { close(l.discCh) })
	}
}

// parseLine decodes one CLI line into a Notification. Lines echoing our own
// commands and lines for kinds we did not subscribe to are dropped.
func (l *NotificationListener) parseLine(line string) (Notification, bool) {
	raw := strings.Fields(line)
	if len(raw) == 0 {
		return Notification{}, false
	}

	tokens := make([]string, len(raw))
	for i, t := range raw {
		dec, err := url.QueryUnescape(t)
		if err != nil {
			dec = t
		}
		tokens[i] = dec
	}

	// Player-targeted: "<playerid> <kind> <params...>"
	if len(tokens) >= 2 && l.kinds[tokens[1]] {
		return Notification{
			PlayerID: tokens[0],
			Kind:     tokens[1],
			Params:   tokens[2:],
		}, true
	}
	// Server-global: "<kind> <params...>"
	if l.kinds[tokens[0]] {
		return Notification{
			Kind:   tokens[0],
			Params: tokens[1:],
		}, true
	}

	return Notification{}, false
}
