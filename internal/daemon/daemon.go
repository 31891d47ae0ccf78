// Package daemon wires the collector, settings reader, session tracker,
// state repository, and firewall backend together into the polling loop
// that drives the whole limiter.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anvil-lab/wg-limiterd/internal/firewall"
	"github.com/anvil-lab/wg-limiterd/internal/metrics"
	"github.com/anvil-lab/wg-limiterd/internal/settings"
	"github.com/anvil-lab/wg-limiterd/internal/state"
	"github.com/anvil-lab/wg-limiterd/internal/tracker"
	"github.com/anvil-lab/wg-limiterd/internal/wireguard"
)

// Collector is the subset of *wireguard.Collector the daemon depends on.
type Collector interface {
	Collect() (map[string]wireguard.InterfaceDump, error)
}

// SettingsReader is the subset of *settings.Reader the daemon depends on.
type SettingsReader interface {
	GetPeerSettings(ctx context.Context, interfaceName, peerID string) (settings.PeerLimitSettings, error)
	InvalidateTableCache(interfaceName string)
}

// Repository is the subset of *state.Repository the daemon depends on.
type Repository interface {
	UpsertSessions(ctx context.Context, interfaceName, peerID string, records []state.SessionRecord) error
	PurgeInterface(ctx context.Context, interfaceName string) error
}

// Daemon runs the single-threaded observe/decide/enforce loop.
type Daemon struct {
	PollInterval time.Duration

	Collector      Collector
	SettingsReader SettingsReader
	Tracker        *tracker.Tracker
	Repository     Repository
	Backend        firewall.Backend // nil means fail-open, no enforcement
	Counters       *metrics.Counters
	Logger         *zap.Logger

	knownInterfaces map[string]bool
}

// New builds a Daemon. Backend may be nil (fail-open).
func New(pollInterval time.Duration, collector Collector, reader SettingsReader, tr *tracker.Tracker, repo Repository, backend firewall.Backend, counters *metrics.Counters, logger *zap.Logger) *Daemon {
	return &Daemon{
		PollInterval:    pollInterval,
		Collector:       collector,
		SettingsReader:  reader,
		Tracker:         tr,
		Repository:      repo,
		Backend:         backend,
		Counters:        counters,
		Logger:          logger,
		knownInterfaces: make(map[string]bool),
	}
}

// Run loops until ctx is canceled, running one iteration per tick and
// logging (never panicking on) iteration failures.
func (d *Daemon) Run(ctx context.Context) {
	d.Logger.Info("starting limiter daemon", zap.Duration("poll_interval", d.PollInterval))

	for {
		if err := d.iteration(ctx); err != nil {
			d.Logger.Error("iteration failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			d.Logger.Info("limiter daemon stopped")
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// iteration runs one observe/decide/enforce pass: collect the current wg
// dump, resolve per-peer settings, feed the tracker, persist the resulting
// snapshot, and build the firewall plan from the endpoints each peer's
// policy currently allows (never from every active endpoint — an evicted
// endpoint must never remain in the allow-set just because traffic is
// still arriving from it).
func (d *Daemon) iteration(ctx context.Context) error {
	start := time.Now()

	dump, err := d.Collector.Collect()
	if err != nil {
		return err
	}

	d.forgetDisappearedInterfaces(ctx, dump)

	plans := make(map[string]firewall.SyncPlan, len(dump))
	overLimit := 0
	var rulesUpdated int64
	now := time.Now().UTC()

	for interfaceName, info := range dump {
		plan := firewall.NewSyncPlan(info.ListenPort)

		for _, peer := range info.Peers {
			cfg, err := d.SettingsReader.GetPeerSettings(ctx, interfaceName, peer.PublicKey)
			if err != nil {
				d.Logger.Warn("falling back to default peer settings",
					zap.String("interface", interfaceName), zap.String("peer", peer.PublicKey), zap.Error(err))
				cfg = settings.Default()
			}

			key := tracker.Key{Interface: interfaceName, PeerID: peer.PublicKey}
			sessions := d.Tracker.Observe(key, peer.Endpoint, peer.LatestHandshake, peer.RxBytes, peer.TxBytes, cfg, now)
			active := d.Tracker.ActiveSessions(key, cfg, now)
			allowed := d.Tracker.AllowedSessions(key, cfg, now)

			if cfg.MaxConcurrent != nil && *cfg.MaxConcurrent > 0 && len(active) > *cfg.MaxConcurrent {
				overLimit++
			}

			for _, s := range allowed {
				if ep, ok := wireguard.ParseEndpoint(s.Endpoint); ok {
					fwEndpoint := firewall.Endpoint{IP: ep.IP, Port: ep.Port}
					if ep.IsIPv6() {
						plan.IPv6[fwEndpoint] = true
					} else {
						plan.IPv4[fwEndpoint] = true
					}
				}
			}

			records := state.RecordsFromSessions(sessions, allowed)
			if err := d.Repository.UpsertSessions(ctx, interfaceName, peer.PublicKey, records); err != nil {
				d.Logger.Warn("failed to persist session snapshot",
					zap.String("interface", interfaceName), zap.String("peer", peer.PublicKey), zap.Error(err))
			}
			rulesUpdated += int64(len(allowed))
		}

		plans[interfaceName] = plan
	}

	if d.Backend != nil {
		if err := d.Backend.Sync(ctx, plans); err != nil {
			d.Logger.Warn("firewall sync failed", zap.Error(err))
		}
	}

	if d.Counters != nil {
		d.Counters.Record(time.Since(start), rulesUpdated, overLimit)
	}

	return nil
}

// forgetDisappearedInterfaces purges persisted rows and firewall state for
// any interface the daemon previously observed but that is absent from the
// current dump, e.g. after wg-quick down.
func (d *Daemon) forgetDisappearedInterfaces(ctx context.Context, dump map[string]wireguard.InterfaceDump) {
	seen := make(map[string]bool, len(dump))
	for name := range dump {
		seen[name] = true
		d.knownInterfaces[name] = true
	}

	for name := range d.knownInterfaces {
		if seen[name] {
			continue
		}
		d.Logger.Info("interface disappeared, purging its state", zap.String("interface", name))
		if err := d.Repository.PurgeInterface(ctx, name); err != nil {
			d.Logger.Warn("failed to purge interface state", zap.String("interface", name), zap.Error(err))
		}
		if d.Backend != nil {
			d.Backend.TeardownPeer(name)
		}
		// The interface may come back with its settings table freshly
		// created or dropped by the dashboard while it was down; forget
		// whatever existence check we cached so it's re-checked fresh.
		d.SettingsReader.InvalidateTableCache(name)
		delete(d.knownInterfaces, name)
	}
}
