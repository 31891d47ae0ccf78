// Package firewall reconciles the host packet filter against the set of
// endpoints the session tracker currently allows. Two backends are
// supported: a native nftables implementation and a legacy iptables/ipset
// fallback for hosts without nft.
package firewall

import (
	"context"
	"os/exec"

	"go.uber.org/zap"
)

// Endpoint is one (ip, port) pair admitted through the firewall.
type Endpoint struct {
	IP   string
	Port int
}

// SyncPlan is the desired allow-set for one WireGuard interface: every
// endpoint currently allowed across all of its peers, split by address
// family, plus the interface's listen port.
type SyncPlan struct {
	Port int
	IPv4 map[Endpoint]bool
	IPv6 map[Endpoint]bool
}

// NewSyncPlan returns an empty plan for the given listen port.
func NewSyncPlan(port int) SyncPlan {
	return SyncPlan{
		Port: port,
		IPv4: make(map[Endpoint]bool),
		IPv6: make(map[Endpoint]bool),
	}
}

// Backend is implemented by each supported firewall technology. All methods
// must be safe to call repeatedly with the same arguments: a sync with no
// changes from the previous one must not issue any mutating commands.
type Backend interface {
	// EnsureInterface creates whatever chain/set/rule scaffolding an
	// interface needs before its first sync. Idempotent.
	EnsureInterface(ctx context.Context, interfaceName string, port int) error
	// Sync reconciles the allow-sets for every interface named in plans
	// against what the backend last installed.
	Sync(ctx context.Context, plans map[string]SyncPlan) error
	// TeardownPeer forgets any in-memory bookkeeping for an interface that
	// has disappeared, e.g. after wg-quick down. Does not need to remove
	// kernel state; the next EnsureInterface call recreates it if the
	// interface comes back.
	TeardownPeer(interfaceName string)
}

// Detect probes the host for a usable firewall technology, preferring
// nftables. Returns nil, nil when neither is available: the daemon then
// runs fail-open, logging loudly that no enforcement is in effect.
func Detect(ctx context.Context, logger *zap.Logger, newNftables func(*zap.Logger) (Backend, error), newLegacy func(*zap.Logger) (Backend, error)) (Backend, error) {
	if _, err := exec.LookPath("nft"); err == nil {
		backend, err := newNftables(logger)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	if _, errIptables := exec.LookPath("iptables"); errIptables == nil {
		if _, errIpset := exec.LookPath("ipset"); errIpset == nil {
			backend, err := newLegacy(logger)
			if err != nil {
				return nil, err
			}
			return backend, nil
		}
	}
	logger.Warn("no supported firewall backend found, running fail-open: endpoints are not being enforced")
	return nil, nil
}
