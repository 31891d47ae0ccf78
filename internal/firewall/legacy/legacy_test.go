package legacy

import (
	"testing"

	"github.com/anvil-lab/wg-limiterd/internal/firewall"
)

func TestDiffAddAndRemove(t *testing.T) {
	a := firewall.Endpoint{IP: "10.0.0.1", Port: 1}
	b := firewall.Endpoint{IP: "10.0.0.2", Port: 2}

	desired := map[firewall.Endpoint]bool{b: true}
	current := map[firewall.Endpoint]bool{a: true}

	add, remove := diff(desired, current)
	if len(add) != 1 || add[0] != b {
		t.Fatalf("expected add=[b], got %v", add)
	}
	if len(remove) != 1 || remove[0] != a {
		t.Fatalf("expected remove=[a], got %v", remove)
	}
}

// Invariant: sync idempotence — no changes when diffing a set against itself.
func TestDiffIdempotentWhenUnchanged(t *testing.T) {
	a := firewall.Endpoint{IP: "10.0.0.1", Port: 1}
	set := map[firewall.Endpoint]bool{a: true}

	add, remove := diff(set, set)
	if len(add) != 0 || len(remove) != 0 {
		t.Fatalf("expected no changes, got add=%v remove=%v", add, remove)
	}
}

func TestSetNaming(t *testing.T) {
	if setName("wg0") != "wggo_wg0_allowed" {
		t.Fatalf("unexpected set name: %s", setName("wg0"))
	}
}
