// Command slimmon monitors the playback status of one media-renderer player
// attached to a Logitech Media Server, logging every update and optionally
// serving it to UI clients over WebSocket.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slimmon-go/internal/config"
	"slimmon-go/internal/events"
	"slimmon-go/internal/lms"
	"slimmon-go/internal/logs"
	"slimmon-go/internal/monitor"
	"slimmon-go/internal/processlock"
	"slimmon-go/internal/server"
)

// reconnectDelay is how long the host waits before rebuilding a monitor
// session after a disconnect event.
const reconnectDelay = 5 * time.Second

var (
	flagConfig   string
	flagHost     string
	flagPlayer   string
	flagListen   string
	flagLogLevel string
	flagPIDFile  string
)

var rootCmd = &cobra.Command{
	Use:   "slimmon",
	Short: "Player-status monitor for Logitech Media Server renderers",
	Long: `slimmon tracks the live playback state of one player attached to a
Logitech Media Server, using event subscription against standard servers and
polling against alternate implementations, and emits status updates to its
log and to WebSocket observers.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to config file")
	rootCmd.Flags().StringVar(&flagHost, "host", "", "media server host (overrides config)")
	rootCmd.Flags().StringVarP(&flagPlayer, "player", "p", "", "player id to monitor (overrides config)")
	rootCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "WebSocket bridge listen address, e.g. :8095")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&flagPIDFile, "pid-file", "", "PID file for single-instance locking (empty disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logs.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	if flagPIDFile != "" {
		lock := processlock.New(flagPIDFile, logger)
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer lock.Release()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	app := &app{
		bus:    bus,
		logger: logger,
	}

	if cfg.Listen != "" {
		if err := app.startBridge(cfg.Listen); err != nil {
			return err
		}
		defer app.stopBridge()
	}

	go app.logEvents(ctx)

	if err := app.startSession(ctx, cfg); err != nil {
		return err
	}
	defer app.stopSession()

	go app.reconnectLoop(ctx)

	if loader != nil {
		err := loader.StartWatching(func(next *config.Config) error {
			applyFlags(next)
			logger.Info("Configuration changed, restarting monitor session")
			app.stopSession()
			return app.startSession(ctx, next)
		})
		if err != nil {
			logger.Warn("Config watching unavailable", zap.Error(err))
		}
		defer loader.Stop()
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func loadConfig() (*config.Config, *config.Loader, error) {
	if flagConfig == "" {
		return config.DefaultConfig(), nil, nil
	}

	loader, err := config.NewLoader(flagConfig, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

func applyFlags(cfg *config.Config) {
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPlayer != "" {
		cfg.Player.ID = flagPlayer
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagLogLevel != "" && cfg.Logging != nil {
		cfg.Logging.Level = flagLogLevel
	}
}

// app owns one monitor session at a time plus the shared bus and bridge.
type app struct {
	bus    *events.Bus
	logger *zap.Logger

	mu      sync.Mutex
	mon     *monitor.Monitor
	lastCfg *config.Config

	httpSrv *http.Server
	wsMgr   *server.WebSocketManager
}

func (a *app) startSession(ctx context.Context, cfg *config.Config) error {
	player := lms.Player{
		ID:   cfg.Player.ID,
		Name: cfg.Player.Name,
		Server: lms.ServerRef{
			Host:    cfg.Server.Host,
			RPCPort: cfg.Server.RPCPort,
			CLIPort: cfg.Server.CLIPort,
		},
	}
	creds := lms.Credentials{
		Username: cfg.Server.Username,
		Password: cfg.Server.Password,
	}

	mon := monitor.New(player, creds, a.bus, monitor.Options{
		DebounceWindow: cfg.DebounceWindow(),
		PollInterval:   cfg.PollInterval(),
		Logger:         a.logger,
	})

	a.mu.Lock()
	a.mon = mon
	a.lastCfg = cfg
	a.mu.Unlock()

	if err := mon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	a.logger.Info("Monitor session started",
		zap.String("player", player.ID),
		zap.String("mode", mon.State().String()))
	return nil
}

func (a *app) stopSession() {
	a.mu.Lock()
	mon := a.mon
	a.mon = nil
	a.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}
}

// reconnectLoop rebuilds the session when the notification channel drops.
// Monitors are one-shot, so reconnecting means a fresh instance.
func (a *app) reconnectLoop(ctx context.Context) {
	disconnects := a.bus.Subscribe(events.PlayerDisconnected)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-disconnects:
			if !ok {
				return
			}
			a.logger.Warn("Player disconnected, reconnecting",
				zap.Duration("delay", reconnectDelay))
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return
			}

			a.mu.Lock()
			cfg := a.lastCfg
			a.mu.Unlock()
			if cfg == nil {
				continue
			}

			a.stopSession()
			if err := a.startSession(ctx, cfg); err != nil {
				a.logger.Error("Reconnect failed", zap.Error(err))
			}
		}
	}
}

func (a *app) logEvents(ctx context.Context) {
	updates := a.bus.Subscribe(events.PlayerUpdated)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			status, _ := ev.Status.(*monitor.Status)
			if status == nil {
				continue
			}
			fields := []zap.Field{
				zap.String("player", ev.PlayerID),
				zap.String("mode", status.Mode),
				zap.Int("volume", status.Volume),
			}
			if status.CurrentTrack != nil {
				fields = append(fields,
					zap.String("title", status.CurrentTrack.Title),
					zap.String("artist", status.CurrentTrack.Artist))
			}
			a.logger.Info("Player status", fields...)
		}
	}
}

func (a *app) startBridge(listen string) error {
	a.wsMgr = server.NewWebSocketManager(a.bus, a.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.wsMgr.HandleWebSocket)

	a.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("WebSocket bridge listening", zap.String("addr", listen))
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("WebSocket bridge failed", zap.Error(err))
		}
	}()
	return nil
}

func (a *app) stopBridge() {
	if a.wsMgr != nil {
		a.wsMgr.Stop()
	}
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpSrv.Shutdown(shutdownCtx)
	}
}
