package wireguard

import (
	"fmt"

	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/wgctrl"
)

// SelfCheck confirms each named interface is reachable through the
// kernel/userspace WireGuard device before the daemon starts relying on
// `wg show all dump` for it. This is purely diagnostic: a failed self-check
// only produces a warning log, it never blocks startup, since the dump
// collector is the source of truth for the actual per-tick loop.
func SelfCheck(logger *zap.Logger, interfaces []string) {
	client, err := wgctrl.New()
	if err != nil {
		logger.Warn("wgctrl unavailable, skipping interface self-check", zap.Error(err))
		return
	}
	defer client.Close()

	for _, name := range interfaces {
		device, err := client.Device(name)
		if err != nil {
			logger.Warn("configured interface not reachable via wgctrl",
				zap.String("interface", name), zap.Error(err))
			continue
		}
		logger.Info("interface reachable",
			zap.String("interface", name),
			zap.Int("peer_count", len(device.Peers)),
			zap.String("type", fmt.Sprintf("%v", device.Type)),
		)
	}
}
