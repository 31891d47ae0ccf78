// Package legacy implements the iptables/ipset fallback firewall backend
// for hosts without nftables. IPv4 only: IPv6 endpoints are logged once per
// interface per sync and otherwise left unenforced.
package legacy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/anvil-lab/wg-limiterd/internal/firewall"
)

// Backend shells out to iptables and ipset.
type Backend struct {
	logger *zap.Logger

	mu          sync.Mutex
	initialized map[string]bool
	current     map[string]map[firewall.Endpoint]bool
}

// New returns a ready legacy backend. Unlike the nftables backend there is
// no shared global table to create up front.
func New(logger *zap.Logger) (*Backend, error) {
	return &Backend{
		logger:      logger,
		initialized: make(map[string]bool),
		current:     make(map[string]map[firewall.Endpoint]bool),
	}, nil
}

func (b *Backend) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		b.logger.Debug("firewall command failed", zap.String("cmd", name), zap.Strings("args", args), zap.String("output", strings.TrimSpace(string(out))))
		return err
	}
	return nil
}

func setName(interfaceName string) string { return "wggo_" + interfaceName + "_allowed" }

func diff(desired, current map[firewall.Endpoint]bool) (add, remove []firewall.Endpoint) {
	for e := range desired {
		if !current[e] {
			add = append(add, e)
		}
	}
	for e := range current {
		if !desired[e] {
			remove = append(remove, e)
		}
	}
	return add, remove
}

// EnsureInterface creates the ipset and the INPUT rule referencing it, both
// idempotently: the ipset is created only if `ipset list` fails, and the
// iptables rule is inserted only if `iptables -C` shows it is missing.
func (b *Backend) EnsureInterface(ctx context.Context, interfaceName string, port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureInterfaceLocked(ctx, interfaceName, port)
}

func (b *Backend) ensureInterfaceLocked(ctx context.Context, interfaceName string, port int) error {
	if b.initialized[interfaceName] {
		return nil
	}

	name := setName(interfaceName)
	if err := b.run(ctx, "ipset", "list", name); err != nil {
		if err := b.run(ctx, "ipset", "create", name, "hash:ip,port", "family", "inet"); err != nil {
			return fmt.Errorf("creating ipset for %s: %w", interfaceName, err)
		}
	}

	portStr := fmt.Sprintf("%d", port)
	checkRule := []string{"-C", "INPUT", "-p", "udp", "--dport", portStr, "-m", "set",
		"!", "--match-set", name, "src,src", "-j", "DROP"}
	if err := b.run(ctx, "iptables", checkRule...); err != nil {
		insertRule := []string{"-I", "INPUT", "1", "-p", "udp", "--dport", portStr, "-m", "set",
			"!", "--match-set", name, "src,src", "-j", "DROP"}
		if err := b.run(ctx, "iptables", insertRule...); err != nil {
			return fmt.Errorf("inserting iptables rule for %s: %w", interfaceName, err)
		}
	}

	b.initialized[interfaceName] = true
	return nil
}

// Sync reconciles each interface's ipset against the desired IPv4 allow-set.
// IPv6 entries are logged with one warning per interface plan that has any
// and otherwise ignored; this backend cannot enforce them.
func (b *Backend) Sync(ctx context.Context, plans map[string]firewall.SyncPlan) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for interfaceName, plan := range plans {
		if len(plan.IPv6) > 0 {
			b.logger.Warn("IPv6 endpoints are not enforced by the legacy iptables backend",
				zap.String("interface", interfaceName), zap.Int("count", len(plan.IPv6)))
		}

		if err := b.ensureInterfaceLocked(ctx, interfaceName, plan.Port); err != nil {
			return err
		}

		name := setName(interfaceName)
		add, remove := diff(plan.IPv4, b.current[interfaceName])
		for _, e := range add {
			_ = b.run(ctx, "ipset", "add", name, fmt.Sprintf("%s,%d", e.IP, e.Port))
		}
		for _, e := range remove {
			_ = b.run(ctx, "ipset", "del", name, fmt.Sprintf("%s,%d", e.IP, e.Port))
		}

		cloned := make(map[firewall.Endpoint]bool, len(plan.IPv4))
		for e := range plan.IPv4 {
			cloned[e] = true
		}
		b.current[interfaceName] = cloned
	}
	return nil
}

// TeardownPeer forgets in-memory bookkeeping for an interface.
func (b *Backend) TeardownPeer(interfaceName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.current, interfaceName)
	delete(b.initialized, interfaceName)
}
