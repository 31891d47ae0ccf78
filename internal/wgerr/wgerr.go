// Package wgerr defines the typed error kinds the limiter daemon
// distinguishes between when deciding whether to log-and-continue,
// skip a single peer, or fail initialization.
package wgerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Kind) at the call site so
// errors.Is still matches while context is preserved.
var (
	// ErrToolMissing means the wg/nft/iptables/ipset binary isn't on PATH.
	ErrToolMissing = errors.New("required tool not found on PATH")

	// ErrToolFailed means a subprocess exited non-zero.
	ErrToolFailed = errors.New("subprocess exited non-zero")

	// ErrParse means a line of tool output could not be parsed and was dropped.
	ErrParse = errors.New("failed to parse output")

	// ErrDbUnavailable means a SQL connect or query failed.
	ErrDbUnavailable = errors.New("database unavailable")

	// ErrInvalidPolicy means a peer's connection_policy column held an
	// unrecognized value. Surfaced as a warning; callers fall back to
	// defaults rather than crash (see settings.NewPeerLimitSettings).
	ErrInvalidPolicy = errors.New("invalid connection policy")
)
