package wireguard

import (
	"errors"
	"testing"

	"github.com/anvil-lab/wg-limiterd/internal/wgerr"
)

func TestParseDumpInterfaceAndPeer(t *testing.T) {
	dump := "wg0\tprivkey\tpubkey\t51820\toff\n" +
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\t(none)\t10.0.0.5:51280\t10.0.0.0/24\t1690000000\t1000\t2000\t25\n"

	interfaces, _ := parseDump(dump)
	iface, ok := interfaces["wg0"]
	if !ok {
		t.Fatalf("expected wg0 interface to be present")
	}
	if iface.ListenPort != 51820 {
		t.Fatalf("listen port = %d, want 51820", iface.ListenPort)
	}
	if len(iface.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(iface.Peers))
	}
	peer := iface.Peers[0]
	if peer.Endpoint != "10.0.0.5:51280" {
		t.Fatalf("endpoint = %q", peer.Endpoint)
	}
	if peer.LatestHandshake != 1690000000 {
		t.Fatalf("handshake = %d", peer.LatestHandshake)
	}
	if peer.RxBytes != 1000 || peer.TxBytes != 2000 {
		t.Fatalf("rx/tx = %d/%d", peer.RxBytes, peer.TxBytes)
	}
}

func TestParseDumpDropsPeerLinesBeforeHeader(t *testing.T) {
	dump := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\t(none)\t10.0.0.5:51280\t10.0.0.0/24\t0\t0\t0\t25\n"
	interfaces, dropped := parseDump(dump)
	if len(interfaces) != 0 {
		t.Fatalf("expected no interfaces, got %v", interfaces)
	}
	if len(dropped) != 1 || !errors.Is(dropped[0], wgerr.ErrParse) {
		t.Fatalf("expected one dropped line wrapping ErrParse, got %v", dropped)
	}
}

func TestParseDumpIgnoresUnknownArities(t *testing.T) {
	dump := "wg0\tprivkey\tpubkey\t51820\toff\n" +
		"stray\tline\twith\tfour\n" +
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\t(none)\t10.0.0.5:51280\t10.0.0.0/24\t0\t10\t20\t25\n"

	interfaces, dropped := parseDump(dump)
	if len(interfaces["wg0"].Peers) != 1 {
		t.Fatalf("expected the stray 4-field line to be ignored")
	}
	if len(dropped) != 1 || !errors.Is(dropped[0], wgerr.ErrParse) {
		t.Fatalf("expected the stray line to be reported as ErrParse, got %v", dropped)
	}
}

func TestParseDumpMultipleInterfaces(t *testing.T) {
	dump := "wg0\tp\tp\t51820\toff\n" +
		"KEY1\t(none)\t10.0.0.1:1\taip\t0\t0\t0\t25\n" +
		"wg1\tp\tp\t51821\toff\n" +
		"KEY2\t(none)\t10.0.0.2:2\taip\t0\t0\t0\t25\n"

	interfaces, _ := parseDump(dump)
	if len(interfaces) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(interfaces))
	}
	if len(interfaces["wg0"].Peers) != 1 || len(interfaces["wg1"].Peers) != 1 {
		t.Fatalf("expected 1 peer per interface, got wg0=%d wg1=%d",
			len(interfaces["wg0"].Peers), len(interfaces["wg1"].Peers))
	}
}
