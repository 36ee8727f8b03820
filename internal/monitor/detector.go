package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"slimmon-go/internal/config"
	"slimmon-go/internal/lms"
)

// Detector performs the one-shot probe that classifies the server
// implementation. Detection is advisory: it has bounded retries and a safe
// default, and never surfaces an error to the caller.
type Detector struct {
	rpc    lms.Caller
	player lms.Player
	creds  lms.Credentials
	logger *zap.Logger

	maxAttempts    int
	attemptTimeout time.Duration
	retryDelay     time.Duration
}

// NewDetector creates a detector with the contract retry bounds.
func NewDetector(rpc lms.Caller, player lms.Player, creds lms.Credentials, logger *zap.Logger) *Detector {
	return &Detector{
		rpc:            rpc,
		player:         player,
		creds:          creds,
		logger:         logger.Named("detector"),
		maxAttempts:    config.DetectMaxAttempts,
		attemptTimeout: config.DetectAttemptTimeout,
		retryDelay:     config.DetectRetryDelay,
	}
}

// Detect probes the server with a generic serverstatus request and classifies
// it by the identity field of the reply. Transport failures and malformed
// replies are retried up to the attempt bound with a fixed delay; if every
// attempt fails the standard-server classification is returned so startup is
// never blocked.
func (d *Detector) Detect(ctx context.Context) Classification {
	params := lms.BuildConnectParams(d.player.Server, d.creds, lms.ProtoRPC)

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		resp, err := d.rpc.Send(probeCtx, params, "", []interface{}{"serverstatus"})
		cancel()

		switch {
		case err == nil && resp.Aborted:
			if errors.Is(ctx.Err(), context.Canceled) {
				// Monitor is shutting down; the classification is moot.
				return StandardServer
			}
			// A transport may surface the per-attempt deadline as an
			// abort; that is a retryable failure, not a shutdown.
			err = context.DeadlineExceeded
		case err == nil && resp.Result != nil:
			if asString(resp.Result["uuid"]) == alternateSentinel {
				d.logger.Info("Server identified as alternate implementation",
					zap.String("uuid", alternateSentinel))
				return AlternateImplementation
			}
			d.logger.Info("Server identified as standard implementation")
			return StandardServer
		case err == nil:
			err = lms.ErrMalformedReply
		}

		if attempt < d.maxAttempts {
			d.logger.Warn("Error detecting server type, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", d.maxAttempts),
				zap.Error(err))
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return StandardServer
			}
			continue
		}

		d.logger.Error("Error detecting server type after multiple attempts, defaulting to standard",
			zap.Error(err))
	}

	return StandardServer
}
