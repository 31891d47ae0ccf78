// Command wg-limiterd enforces a per-peer concurrent-session cap on a
// WireGuard deployment by observing `wg show all dump`, tracking endpoints
// in memory, persisting session snapshots to the shared dashboard
// database, and reconciling the host firewall to drop packets from
// endpoints the policy no longer allows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/anvil-lab/wg-limiterd/internal/config"
	"github.com/anvil-lab/wg-limiterd/internal/daemon"
	"github.com/anvil-lab/wg-limiterd/internal/database"
	"github.com/anvil-lab/wg-limiterd/internal/firewall"
	legacyfw "github.com/anvil-lab/wg-limiterd/internal/firewall/legacy"
	nftablesfw "github.com/anvil-lab/wg-limiterd/internal/firewall/nftables"
	"github.com/anvil-lab/wg-limiterd/internal/logging"
	"github.com/anvil-lab/wg-limiterd/internal/metrics"
	"github.com/anvil-lab/wg-limiterd/internal/settings"
	"github.com/anvil-lab/wg-limiterd/internal/state"
	"github.com/anvil-lab/wg-limiterd/internal/tracker"
	"github.com/anvil-lab/wg-limiterd/internal/wireguard"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		interval      = pflag.Float64("interval", 0, "Polling interval in seconds (overrides config)")
		verbose       = pflag.Bool("verbose", false, "Enable debug logging (overrides config)")
		logFile       = pflag.String("log-file", "", "If non-empty, write log files to this location (overrides config)")
		logMaxSize    = pflag.Int("log-max-size", 0, "Max log file size in megabytes before rotation (overrides config)")
		logMaxBackups = pflag.Int("log-max-backups", 0, "Max number of rotated log files to retain (overrides config)")
		logMaxAge     = pflag.Int("log-max-age", 0, "Max age in days to retain rotated log files (overrides config)")
		logCompress   = pflag.Bool("log-compress", false, "Compress rotated log files (overrides config)")
		metricsAddr   = pflag.String("metrics-addr", "", "If non-empty, serve /healthz and /metrics on this address (overrides config)")
		dbTimeout     = pflag.Float64("db-timeout", 0, "Database connection timeout in seconds (overrides config)")
		dashboardIni  = pflag.String("dashboard-config", "", "Path to the dashboard's wg-dashboard.ini, for shared DB credentials (overrides config)")
	)
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	if *interval > 0 {
		cfg.Limiter.PollInterval = time.Duration(*interval * float64(time.Second))
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *logMaxSize > 0 {
		cfg.Log.MaxSizeMB = *logMaxSize
	}
	if *logMaxBackups > 0 {
		cfg.Log.MaxBackups = *logMaxBackups
	}
	if *logMaxAge > 0 {
		cfg.Log.MaxAgeDays = *logMaxAge
	}
	if *logCompress {
		cfg.Log.Compress = true
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *dbTimeout > 0 {
		cfg.Database.ConnTimeout = time.Duration(*dbTimeout * float64(time.Second))
	}
	if *dashboardIni != "" {
		cfg.Database.DashboardConfigPath = *dashboardIni
		if dsn, dsnErr := config.DashboardDSN(cfg.Database.DashboardConfigPath); dsnErr == nil {
			cfg.Database.Source = "dashboard"
			cfg.Database.ApplyDSN(dsn)
		} else {
			cfg.Database.Source = "standalone"
			cfg.Database.ApplyDSN("")
		}
	}

	logger, err := logging.New(cfg.Environment, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("starting wg-limiterd", zap.String("environment", cfg.Environment))
	if cfg.Database.Source == "dashboard" {
		logger.Info("using database credentials shared with the dashboard",
			zap.String("dashboard_config", cfg.Database.DashboardConfigPath))
	} else {
		logger.Warn("dashboard config unreadable, falling back to standalone database credentials: "+
			"these will drift if the dashboard's credentials ever change",
			zap.String("dashboard_config", cfg.Database.DashboardConfigPath))
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return 1
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Error("failed to run database migrations", zap.Error(err))
		return 1
	}

	repo := state.New(db.Pool)
	reader := settings.NewReader(db.Pool)
	collector := wireguard.NewCollector()
	collector.WgPath = cfg.Limiter.WireguardBin
	collector.Logger = logger

	if dump, err := collector.Collect(); err != nil {
		logger.Warn("startup wg dump failed, skipping interface self-check", zap.Error(err))
	} else {
		names := make([]string, 0, len(dump))
		for name := range dump {
			names = append(names, name)
		}
		wireguard.SelfCheck(logger, names)
	}

	backend, err := firewall.Detect(context.Background(), logger,
		func(l *zap.Logger) (firewall.Backend, error) { return nftablesfw.New(l) },
		func(l *zap.Logger) (firewall.Backend, error) { return legacyfw.New(l) },
	)
	if err != nil {
		logger.Error("failed to initialize firewall backend", zap.Error(err))
		return 1
	}

	counters := metrics.NewCounters()
	d := daemon.New(cfg.Limiter.PollInterval, collector, reader, tracker.New(), repo, backend, counters, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, counters, logger)
		go func() {
			if err := metricsServer.Run(runCtx); err != nil {
				logger.Error("metrics server exited with error", zap.Error(err))
			}
		}()
	}

	d.Run(runCtx)
	return 0
}
