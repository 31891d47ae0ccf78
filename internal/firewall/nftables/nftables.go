// Package nftables implements the native firewall backend: one inet table
// shared by every interface, one chain and one pair of sets (v4/v6) per
// interface, diffed and applied with `nft` invocations.
package nftables

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/anvil-lab/wg-limiterd/internal/firewall"
)

// tableName is the single inet table every interface's chain lives under.
const tableName = "wggo_limiter"

// Backend shells out to nft to reconcile allow-sets. Safe for concurrent
// use, though the daemon drives it single-threaded.
type Backend struct {
	logger *zap.Logger

	mu          sync.Mutex
	initialized map[string]bool
	currentV4   map[string]map[firewall.Endpoint]bool
	currentV6   map[string]map[firewall.Endpoint]bool
}

// New ensures the shared table exists and returns a ready backend.
func New(logger *zap.Logger) (*Backend, error) {
	b := &Backend{
		logger:      logger,
		initialized: make(map[string]bool),
		currentV4:   make(map[string]map[firewall.Endpoint]bool),
		currentV6:   make(map[string]map[firewall.Endpoint]bool),
	}
	if err := b.ensureEnvironment(context.Background()); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "nft", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		b.logger.Debug("nft command failed", zap.Strings("args", args), zap.String("output", strings.TrimSpace(string(out))))
		return err
	}
	return nil
}

func (b *Backend) ensureEnvironment(ctx context.Context) error {
	if err := b.run(ctx, "list", "table", "inet", tableName); err != nil {
		return b.run(ctx, "add", "table", "inet", tableName)
	}
	return nil
}

func chainName(interfaceName string) string { return "wggo_" + interfaceName }
func setV4Name(interfaceName string) string { return "wggo_" + interfaceName + "_allowed_v4" }
func setV6Name(interfaceName string) string { return "wggo_" + interfaceName + "_allowed_v6" }

// EnsureInterface creates the per-interface sets and drop chain on first
// use. A no-op on every call after the first for a given interface name.
func (b *Backend) EnsureInterface(ctx context.Context, interfaceName string, port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ensureInterfaceLocked(ctx, interfaceName, port)
}

func (b *Backend) ensureInterfaceLocked(ctx context.Context, interfaceName string, port int) error {
	if b.initialized[interfaceName] {
		return nil
	}

	v4, v6, chain := setV4Name(interfaceName), setV6Name(interfaceName), chainName(interfaceName)

	if err := b.run(ctx, "list", "set", "inet", tableName, v4); err != nil {
		if err := b.run(ctx, "add", "set", "inet", tableName, v4, "{", "type", "ipv4_addr", ".", "inet_service;", "}"); err != nil {
			return fmt.Errorf("creating v4 set for %s: %w", interfaceName, err)
		}
	}
	if err := b.run(ctx, "list", "set", "inet", tableName, v6); err != nil {
		if err := b.run(ctx, "add", "set", "inet", tableName, v6, "{", "type", "ipv6_addr", ".", "inet_service;", "}"); err != nil {
			return fmt.Errorf("creating v6 set for %s: %w", interfaceName, err)
		}
	}
	if err := b.run(ctx, "list", "chain", "inet", tableName, chain); err != nil {
		if err := b.run(ctx, "add", "chain", "inet", tableName, chain,
			"{", "type", "filter", "hook", "input", "priority", "-150;", "policy", "accept;", "}"); err != nil {
			return fmt.Errorf("creating chain for %s: %w", interfaceName, err)
		}
		portStr := fmt.Sprintf("%d", port)
		_ = b.run(ctx, "add", "rule", "inet", tableName, chain,
			"udp", "dport", portStr, "ip", "saddr", ".", "udp", "sport", "@"+v4, "return")
		_ = b.run(ctx, "add", "rule", "inet", tableName, chain,
			"udp", "dport", portStr, "ip6", "saddr", ".", "udp", "sport", "@"+v6, "return")
		_ = b.run(ctx, "add", "rule", "inet", tableName, chain,
			"udp", "dport", portStr, "drop")
	}

	b.initialized[interfaceName] = true
	return nil
}

func formatElements(elements []firewall.Endpoint) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		ip := e.IP
		if strings.Contains(ip, ":") && !strings.HasPrefix(ip, "[") {
			ip = "[" + ip + "]"
		}
		parts = append(parts, fmt.Sprintf("%s . %d", ip, e.Port))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

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

func (b *Backend) syncSet(ctx context.Context, setName string, desired, current map[firewall.Endpoint]bool) {
	add, remove := diff(desired, current)
	if len(add) > 0 {
		_ = b.run(ctx, "add", "element", "inet", tableName, setName, formatElements(add))
	}
	if len(remove) > 0 {
		_ = b.run(ctx, "delete", "element", "inet", tableName, setName, formatElements(remove))
	}
}

// Sync reconciles every interface's allow-sets against what was last
// installed, issuing only the add/delete element commands needed to close
// the gap. Interfaces not yet seen are initialized first.
func (b *Backend) Sync(ctx context.Context, plans map[string]firewall.SyncPlan) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for interfaceName, plan := range plans {
		if err := b.ensureInterfaceLocked(ctx, interfaceName, plan.Port); err != nil {
			return err
		}

		b.syncSet(ctx, setV4Name(interfaceName), plan.IPv4, b.currentV4[interfaceName])
		b.syncSet(ctx, setV6Name(interfaceName), plan.IPv6, b.currentV6[interfaceName])

		b.currentV4[interfaceName] = cloneSet(plan.IPv4)
		b.currentV6[interfaceName] = cloneSet(plan.IPv6)
	}
	return nil
}

func cloneSet(in map[firewall.Endpoint]bool) map[firewall.Endpoint]bool {
	out := make(map[firewall.Endpoint]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// TeardownPeer forgets in-memory bookkeeping for an interface so it is
// re-initialized from scratch if it reappears.
func (b *Backend) TeardownPeer(interfaceName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.currentV4, interfaceName)
	delete(b.currentV6, interfaceName)
	delete(b.initialized, interfaceName)
}
