package nftables

import (
	"testing"

	"github.com/anvil-lab/wg-limiterd/internal/firewall"
)

func TestDiffAddAndRemove(t *testing.T) {
	a := firewall.Endpoint{IP: "10.0.0.1", Port: 1}
	b := firewall.Endpoint{IP: "10.0.0.2", Port: 2}
	c := firewall.Endpoint{IP: "10.0.0.3", Port: 3}

	current := map[firewall.Endpoint]bool{a: true, b: true}
	desired := map[firewall.Endpoint]bool{b: true, c: true}

	add, remove := diff(desired, current)
	if len(add) != 1 || add[0] != c {
		t.Fatalf("expected add=[c], got %v", add)
	}
	if len(remove) != 1 || remove[0] != a {
		t.Fatalf("expected remove=[a], got %v", remove)
	}
}

// Invariant: a second sync against an identical desired set must diff to
// zero adds and zero removes.
func TestDiffIdempotentWhenUnchanged(t *testing.T) {
	a := firewall.Endpoint{IP: "10.0.0.1", Port: 1}
	set := map[firewall.Endpoint]bool{a: true}

	add, remove := diff(set, set)
	if len(add) != 0 || len(remove) != 0 {
		t.Fatalf("expected no changes diffing a set against itself, got add=%v remove=%v", add, remove)
	}
}

func TestDiffEmptyCurrentAddsEverything(t *testing.T) {
	a := firewall.Endpoint{IP: "10.0.0.1", Port: 1}
	desired := map[firewall.Endpoint]bool{a: true}

	add, remove := diff(desired, nil)
	if len(add) != 1 || add[0] != a {
		t.Fatalf("expected a to be added, got %v", add)
	}
	if len(remove) != 0 {
		t.Fatalf("expected no removes, got %v", remove)
	}
}

func TestFormatElementsBracketsIPv6(t *testing.T) {
	got := formatElements([]firewall.Endpoint{{IP: "fe80::1", Port: 51820}})
	want := "{ [fe80::1] . 51820 }"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatElementsLeavesIPv4Unbracketed(t *testing.T) {
	got := formatElements([]firewall.Endpoint{{IP: "10.0.0.1", Port: 51820}})
	want := "{ 10.0.0.1 . 51820 }"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestChainAndSetNaming(t *testing.T) {
	if chainName("wg0") != "wggo_wg0" {
		t.Fatalf("unexpected chain name: %s", chainName("wg0"))
	}
	if setV4Name("wg0") != "wggo_wg0_allowed_v4" {
		t.Fatalf("unexpected v4 set name: %s", setV4Name("wg0"))
	}
	if setV6Name("wg0") != "wggo_wg0_allowed_v6" {
		t.Fatalf("unexpected v6 set name: %s", setV6Name("wg0"))
	}
}
