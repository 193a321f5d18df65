package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vpnwatch/backend/internal/config"
	"github.com/vpnwatch/backend/internal/identity"
	"github.com/vpnwatch/backend/internal/metrics"
	"github.com/vpnwatch/backend/internal/mock"
	"github.com/vpnwatch/backend/internal/monitor"
	"github.com/vpnwatch/backend/internal/notify"
	"github.com/vpnwatch/backend/internal/session"
	"github.com/vpnwatch/backend/internal/stats"
	"github.com/vpnwatch/backend/internal/ws"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the status feed and send notifications (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd)
		},
	}
}

func runMonitor(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	directory := identity.NewDirectory(cfg.Mapping.Path, cfg.Mapping.Extension,
		logger.With().Str("component", "identity").Logger())
	directory.Load()

	collector := metrics.New()
	collector.SetMappingEntries(directory.Len())

	var notifier notify.Notifier
	if cfg.Notifier.DryRun {
		logger.Warn().Msg("Dry run: notifications are logged, not sent")
		notifier = notify.LogNotifier{Log: logger.With().Str("component", "notify").Logger()}
	} else {
		notifier = notify.NewWebhook(cfg.Notifier.URL, cfg.Notifier.Timeout,
			logger.With().Str("component", "notify").Logger())
	}

	var source monitor.Source
	if mockMode {
		logger.Info().Msg("Starting in mock mode")
		source = mock.NewGenerator(1, cfg.Feed.PollInterval)
	} else {
		logger.Info().Str("feed", cfg.Feed.Path).Msg("Reading OpenVPN status feed")
		source = monitor.NewStatusFileSource(cfg.Feed.Path, cfg.Feed.Marker, cfg.Feed.RequireEnd)
	}

	store := session.NewStore()

	var broadcaster *ws.Broadcaster
	if cfg.Server.Listen != "" {
		broadcaster = ws.NewBroadcaster(store, cfg.Server.SnapshotInterval, cfg.Server.MaxConnections, logger)
		broadcaster.SetPrivacyFilter(&session.PrivacyFilter{
			MaskAddresses:  cfg.Privacy.MaskAddresses,
			MaskSessionIDs: cfg.Privacy.MaskSessionIDs,
			AllowedIDs:     cfg.Privacy.AllowedIDs,
			BlockedIDs:     cfg.Privacy.BlockedIDs,
		})
		defer broadcaster.Stop()
	}

	mon, err := monitor.NewMonitor(cfg, source, directory, notifier, store, broadcaster, logger)
	if err != nil {
		return err
	}
	mon.SetMetrics(collector)

	tracker, trackerDone := startStats(ctx, cfg, mon, logger)

	serverErr := make(chan error, 1)
	if broadcaster != nil {
		srv := ws.NewServer(store, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, logger)
		if tracker != nil {
			srv.SetStatsTracker(tracker)
		}
		srv.SetMetricsHandler(collector.Handler())
		srv.SetHostInfo(func() (ws.HostInfo, error) {
			hctx, hcancel := context.WithTimeout(ctx, 2*time.Second)
			defer hcancel()
			return monitor.HostInfo(hctx)
		})
		go func() {
			if err := ws.ListenAndServe(ctx, cfg.Server.Listen, srv.Handler(), logger); err != nil {
				serverErr <- err
				cancel()
			}
		}()
	}

	go handleReload(ctx, cmd, mon, directory, collector, logger)

	mon.Start(ctx)
	<-trackerDone

	select {
	case err := <-serverErr:
		return err
	default:
	}
	logger.Info().Msg("Shut down")
	return nil
}

// startStats starts the stats tracker when enabled. The returned channel is
// closed once the tracker has saved and exited.
func startStats(ctx context.Context, cfg *config.Config, mon *monitor.Monitor, logger zerolog.Logger) (*stats.Tracker, <-chan struct{}) {
	done := make(chan struct{})
	if !cfg.Stats.Enabled {
		close(done)
		return nil, done
	}

	tracker, events, err := stats.NewTracker(stats.NewStore(cfg.Stats.Dir), cfg.Stats.SaveInterval, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Connection statistics disabled")
		close(done)
		return nil, done
	}
	mon.SetStatsEvents(events)
	go func() {
		tracker.Run(ctx)
		close(done)
	}()
	return tracker, done
}

// handleReload re-reads the config file and the mapping store on SIGHUP.
// Only the poll interval and message templates are applied from the config.
func handleReload(ctx context.Context, cmd *cobra.Command, mon *monitor.Monitor, directory *identity.Directory,
	collector *metrics.Collector, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info().Msg("SIGHUP received, reloading")
			if cfg, err := loadConfig(cmd, true); err != nil {
				logger.Error().Err(err).Msg("Config reload failed, keeping current config")
			} else if err := mon.SetConfig(cfg); err != nil {
				logger.Error().Err(err).Msg("Config reload rejected, keeping current config")
			}
			if err := directory.Reload(); err != nil {
				logger.Error().Err(err).Msg("Mapping reload failed, keeping previous mappings")
			}
			collector.SetMappingEntries(directory.Len())
		}
	}
}
