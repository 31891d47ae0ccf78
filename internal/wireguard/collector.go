package wireguard

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/anvil-lab/wg-limiterd/internal/wgerr"
)

// PeerDump is one peer line from `wg show all dump`.
type PeerDump struct {
	PublicKey       string
	Endpoint        string
	LatestHandshake int64 // unix seconds, 0 if never
	RxBytes         uint64
	TxBytes         uint64
}

// InterfaceDump is one interface's header line plus its peers.
type InterfaceDump struct {
	ListenPort int
	Peers      []PeerDump
}

// Collector shells out to the WireGuard CLI to gather the current state of
// every configured interface and peer.
type Collector struct {
	// WgPath overrides the binary name used to invoke the dump command.
	// Empty means "wg" resolved via PATH.
	WgPath string

	// Logger receives a warning for every dump line dropped during
	// parsing. Nil disables logging: dropped lines are still dropped, just
	// silently, which is fine for tests that only assert on the surviving
	// peers/interfaces.
	Logger *zap.Logger
}

// NewCollector returns a Collector that invokes "wg" from PATH.
func NewCollector() *Collector {
	return &Collector{WgPath: "wg"}
}

// Collect runs `wg show all dump` and parses its tab-separated output into
// a map from interface name to InterfaceDump.
func (c *Collector) Collect() (map[string]InterfaceDump, error) {
	binary := c.WgPath
	if binary == "" {
		binary = "wg"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("wg binary not found: %w", wgerr.ErrToolMissing)
	}

	cmd := exec.Command(resolved, "show", "all", "dump")
	output, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		if stderr == "" {
			stderr = err.Error()
		}
		return nil, fmt.Errorf("wg show all dump failed: %s: %w", stderr, wgerr.ErrToolFailed)
	}

	interfaces, dropped := parseDump(string(output))
	if c.Logger != nil {
		for _, derr := range dropped {
			c.Logger.Warn("dropped unparseable wg dump line", zap.Error(derr))
		}
	}
	return interfaces, nil
}

// parseDump parses `wg show all dump` output. Lines it cannot make sense of
// are skipped and reported back as wgerr.ErrParse-wrapped errors rather than
// silently discarded, so a caller with a logger can surface them.
func parseDump(output string) (map[string]InterfaceDump, []error) {
	interfaces := make(map[string]InterfaceDump)
	var current string
	var dropped []error

	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")

		switch {
		case len(fields) == 5:
			current = fields[0]
			port, _ := strconv.Atoi(fields[3])
			interfaces[current] = InterfaceDump{ListenPort: port}

		case len(fields) >= 8:
			if current == "" {
				dropped = append(dropped, fmt.Errorf("peer line before any interface header: %w", wgerr.ErrParse))
				continue
			}
			handshake, _ := strconv.ParseInt(fields[4], 10, 64)
			rx, _ := strconv.ParseUint(fields[5], 10, 64)
			tx, _ := strconv.ParseUint(fields[6], 10, 64)

			iface := interfaces[current]
			iface.Peers = append(iface.Peers, PeerDump{
				PublicKey:       fields[0],
				Endpoint:        fields[2],
				LatestHandshake: handshake,
				RxBytes:         rx,
				TxBytes:         tx,
			})
			interfaces[current] = iface

		default:
			dropped = append(dropped, fmt.Errorf("line with %d fields, expected 5 or >=8: %w", len(fields), wgerr.ErrParse))
		}
	}

	return interfaces, dropped
}
