package settings

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anvil-lab/wg-limiterd/internal/wgerr"
)

// interfaceNameRe matches the legacy dashboard convention of a per-interface
// table named after the interface itself. Interface names come from the
// trusted wg dump, never from user input, but are still validated before
// being used as an identifier — never interpolate arbitrary strings.
var interfaceNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Reader fetches per-peer limit settings from the shared dashboard database.
// Table handles (existence checks) are cached between calls; the connection
// pool is reused.
type Reader struct {
	pool *pgxpool.Pool

	mu          sync.Mutex
	tableExists map[string]bool
}

// NewReader wraps an existing connection pool. The pool is owned by the
// caller (the daemon), not closed here.
func NewReader(pool *pgxpool.Pool) *Reader {
	return &Reader{
		pool:        pool,
		tableExists: make(map[string]bool),
	}
}

// GetPeerSettings returns the limit settings for one peer on one interface.
// Absence of the table, or of the row, is not an error: it means
// "unlimited, new_wins, defaults". An unrecognized connection_policy value
// is returned as an error wrapping wgerr.ErrInvalidPolicy; callers should
// log it as a warning and use Default().
func (r *Reader) GetPeerSettings(ctx context.Context, interfaceName, peerID string) (PeerLimitSettings, error) {
	if !interfaceNameRe.MatchString(interfaceName) {
		return Default(), fmt.Errorf("refusing to query non-identifier interface name %q", interfaceName)
	}

	exists, err := r.tableExistsCached(ctx, interfaceName)
	if err != nil {
		return Default(), fmt.Errorf("checking settings table for %s: %w", interfaceName, wgerr.ErrDbUnavailable)
	}
	if !exists {
		return Default(), nil
	}

	ident := pgx.Identifier{interfaceName}.Sanitize()
	query := fmt.Sprintf(
		`SELECT max_concurrent, connection_policy, session_ttl, grace_seconds FROM %s WHERE id = $1`,
		ident,
	)

	var raw RawPeerLimitRow
	row := r.pool.QueryRow(ctx, query, peerID)
	err = row.Scan(&raw.MaxConcurrent, &raw.ConnectionPolicy, &raw.SessionTTL, &raw.GraceSeconds)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Default(), nil
		}
		return Default(), fmt.Errorf("reading settings for peer %s on %s: %w", peerID, interfaceName, wgerr.ErrDbUnavailable)
	}

	return NewPeerLimitSettings(raw)
}

func (r *Reader) tableExistsCached(ctx context.Context, interfaceName string) (bool, error) {
	r.mu.Lock()
	if exists, ok := r.tableExists[interfaceName]; ok {
		r.mu.Unlock()
		return exists, nil
	}
	r.mu.Unlock()

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
		interfaceName,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	r.tableExists[interfaceName] = exists
	r.mu.Unlock()

	return exists, nil
}

// InvalidateTableCache forgets any cached table-existence result for an
// interface, forcing the next GetPeerSettings call to re-check. Useful if
// the dashboard creates a peer-limit table for an interface after the
// daemon already cached its absence.
func (r *Reader) InvalidateTableCache(interfaceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tableExists, interfaceName)
}
