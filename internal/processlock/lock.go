// Package processlock prevents two slimmon instances from monitoring the
// same machine at once. A second CLI subscription for the same player would
// double the notification and refresh traffic against the server.
package processlock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// ProcessLock is a PID-file based single-instance guard.
type ProcessLock struct {
	pidFile string
	logger  *zap.Logger
}

// New creates a lock bound to the given PID file path. Nothing is written
// until Acquire.
func New(pidFile string, logger *zap.Logger) *ProcessLock {
	return &ProcessLock{
		pidFile: pidFile,
		logger:  logger.Named("processlock"),
	}
}

// Acquire takes the lock, clearing a stale PID file left by a dead process.
func (p *ProcessLock) Acquire() error {
	if _, err := os.Stat(p.pidFile); err == nil {
		pid, err := p.readPID()
		switch {
		case err != nil:
			p.logger.Warn("Unreadable PID file, removing stale lock",
				zap.String("pid_file", p.pidFile),
				zap.Error(err))
			os.Remove(p.pidFile)
		case p.isProcessRunning(pid):
			return fmt.Errorf("another slimmon instance is already running (PID: %d)", pid)
		default:
			p.logger.Warn("Removing stale PID file from dead process",
				zap.Int("pid", pid),
				zap.String("pid_file", p.pidFile))
			os.Remove(p.pidFile)
		}
	}

	if err := p.writePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	p.logger.Info("Process lock acquired",
		zap.Int("pid", os.Getpid()),
		zap.String("pid_file", p.pidFile))
	return nil
}

// Release removes the PID file. Releasing an unheld lock is a no-op.
func (p *ProcessLock) Release() error {
	if err := os.Remove(p.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

func (p *ProcessLock) readPID() (int, error) {
	data, err := os.ReadFile(p.pidFile)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %s", pidStr)
	}
	return pid, nil
}

func (p *ProcessLock) writePID() error {
	return os.WriteFile(p.pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// isProcessRunning probes the PID with signal 0. On Unix FindProcess always
// succeeds, so the signal is what actually answers the question.
func (p *ProcessLock) isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
