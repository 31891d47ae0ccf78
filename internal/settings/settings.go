// Package settings reads per-peer concurrent-session limit configuration
// from the shared dashboard database. It never caches beyond a single
// request to the database; only the resolved table handle is cached.
package settings

import (
	"fmt"

	"github.com/anvil-lab/wg-limiterd/internal/wgerr"
)

const (
	// DefaultPolicy is used when connection_policy is absent or the row
	// itself is absent.
	DefaultPolicy = PolicyNewWins
	// DefaultTTLSeconds is used when session_ttl is absent.
	DefaultTTLSeconds = 180
	// DefaultGraceSeconds is used when grace_seconds is absent.
	DefaultGraceSeconds = 5
)

// Policy is the tie-break rule used to choose among stable sessions once
// the concurrency cap is exceeded.
type Policy string

const (
	PolicyNewWins Policy = "new_wins"
	PolicyOldWins Policy = "old_wins"
)

// ParsePolicy validates a raw connection_policy column value. An empty
// string maps to the default policy; anything else must be one of the two
// recognized values.
func ParsePolicy(raw string) (Policy, error) {
	if raw == "" {
		return DefaultPolicy, nil
	}
	switch Policy(raw) {
	case PolicyNewWins, PolicyOldWins:
		return Policy(raw), nil
	default:
		return "", fmt.Errorf("unsupported peer limit policy %q: %w", raw, wgerr.ErrInvalidPolicy)
	}
}

// PeerLimitSettings is the per-peer configuration the session tracker
// consumes. MaxConcurrent of nil means unlimited.
type PeerLimitSettings struct {
	MaxConcurrent *int
	Policy        Policy
	TTLSeconds    int
	GraceSeconds  int
}

// Default returns the settings used when a peer has no row: unlimited,
// new_wins, default TTL and grace.
func Default() PeerLimitSettings {
	return PeerLimitSettings{
		MaxConcurrent: nil,
		Policy:        DefaultPolicy,
		TTLSeconds:    DefaultTTLSeconds,
		GraceSeconds:  DefaultGraceSeconds,
	}
}

// RawPeerLimitRow mirrors the nullable SQL columns backing PeerLimitSettings
// before the clamping rules in spec §4.3 are applied.
type RawPeerLimitRow struct {
	MaxConcurrent    *int64
	ConnectionPolicy *string
	SessionTTL       *int64
	GraceSeconds     *int64
}

// NewPeerLimitSettings applies the clamping and coercion rules exactly once:
//   - max_concurrent <= 0 (or absent)  -> unlimited
//   - session_ttl < 1                  -> clamp to 1 (absent uses DefaultTTLSeconds)
//   - grace_seconds < 0                -> clamp to 0 (absent uses DefaultGraceSeconds)
//   - unrecognized connection_policy   -> error, caller must fall back to Default()
func NewPeerLimitSettings(raw RawPeerLimitRow) (PeerLimitSettings, error) {
	out := Default()

	if raw.MaxConcurrent != nil {
		if *raw.MaxConcurrent > 0 {
			v := int(*raw.MaxConcurrent)
			out.MaxConcurrent = &v
		} else {
			out.MaxConcurrent = nil
		}
	}

	if raw.SessionTTL != nil {
		ttl := int(*raw.SessionTTL)
		if ttl < 1 {
			ttl = 1
		}
		out.TTLSeconds = ttl
	}

	if raw.GraceSeconds != nil {
		grace := int(*raw.GraceSeconds)
		if grace < 0 {
			grace = 0
		}
		out.GraceSeconds = grace
	}

	policyRaw := ""
	if raw.ConnectionPolicy != nil {
		policyRaw = *raw.ConnectionPolicy
	}
	policy, err := ParsePolicy(policyRaw)
	if err != nil {
		return Default(), err
	}
	out.Policy = policy

	return out, nil
}
