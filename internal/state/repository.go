// Package state persists limiter session snapshots to the shared dashboard
// database so external tooling can read current allow/deny decisions without
// talking to the daemon directly.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anvil-lab/wg-limiterd/internal/wgerr"
)

const sessionsTable = "PeerLimiterSessions"

// SessionRecord is one row to persist: an observed endpoint plus whether the
// tracker's eviction policy currently allows it.
type SessionRecord struct {
	Endpoint      string
	LastHandshake *time.Time
	FirstSeen     time.Time
	LastSeen      time.Time
	RxBytes       uint64
	TxBytes       uint64
	RxDelta       uint64
	TxDelta       uint64
	IsAllowed     bool
}

// PersistedSession is a row read back from the table, with handshake age
// computed relative to the time of the read.
type PersistedSession struct {
	Endpoint            string
	LastHandshake       *time.Time
	HandshakeAgeSeconds *int64
	FirstSeen           time.Time
	LastSeen            time.Time
	RxBytes             uint64
	TxBytes             uint64
	RxDelta             uint64
	TxDelta             uint64
	Allowed             bool
}

// Repository wraps the connection pool used to persist and read back
// limiter session snapshots. The pool is owned by the caller.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertSessions replaces every row for (interfaceName, peerID) with the
// given records in one transaction: delete-then-insert, matching the
// dashboard's own replace-on-write semantics so stale endpoints never
// linger once a peer stops using them.
func (r *Repository) UpsertSessions(ctx context.Context, interfaceName, peerID string, records []SessionRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning session upsert for %s/%s: %w", interfaceName, peerID, wgerr.ErrDbUnavailable)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM "`+sessionsTable+`" WHERE "Interface" = $1 AND "PeerID" = $2`,
		interfaceName, peerID,
	)
	if err != nil {
		return fmt.Errorf("clearing old sessions for %s/%s: %w", interfaceName, peerID, wgerr.ErrDbUnavailable)
	}

	now := time.Now().UTC()
	for _, rec := range records {
		_, err = tx.Exec(ctx, `
			INSERT INTO "`+sessionsTable+`"
				("Interface", "PeerID", "Endpoint", "LastHandshake", "FirstSeen", "LastSeen",
				 "RxBytes", "TxBytes", "RxDelta", "TxDelta", "IsAllowed", "UpdatedAt")
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			interfaceName, peerID, rec.Endpoint, rec.LastHandshake, rec.FirstSeen, rec.LastSeen,
			int64(rec.RxBytes), int64(rec.TxBytes), int64(rec.RxDelta), int64(rec.TxDelta), rec.IsAllowed, now,
		)
		if err != nil {
			return fmt.Errorf("inserting session %s for %s/%s: %w", rec.Endpoint, interfaceName, peerID, wgerr.ErrDbUnavailable)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing session upsert for %s/%s: %w", interfaceName, peerID, wgerr.ErrDbUnavailable)
	}
	return nil
}

// PurgeInterface drops every persisted row for an interface. Called when an
// interface disappears from a wg dump iteration, e.g. after wg-quick down.
func (r *Repository) PurgeInterface(ctx context.Context, interfaceName string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM "`+sessionsTable+`" WHERE "Interface" = $1`, interfaceName)
	if err != nil {
		return fmt.Errorf("purging interface %s: %w", interfaceName, wgerr.ErrDbUnavailable)
	}
	return nil
}

// GetSessions reads back the persisted sessions for one peer, most recently
// seen first, with handshake age computed relative to now.
func (r *Repository) GetSessions(ctx context.Context, interfaceName, peerID string) ([]PersistedSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT "Endpoint", "LastHandshake", "FirstSeen", "LastSeen",
		       "RxBytes", "TxBytes", "RxDelta", "TxDelta", "IsAllowed"
		FROM "`+sessionsTable+`"
		WHERE "Interface" = $1 AND "PeerID" = $2
		ORDER BY "LastSeen" DESC
	`, interfaceName, peerID)
	if err != nil {
		return nil, fmt.Errorf("reading sessions for %s/%s: %w", interfaceName, peerID, wgerr.ErrDbUnavailable)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []PersistedSession
	for rows.Next() {
		var (
			s             PersistedSession
			lastHandshake *time.Time
			rx, tx, rxd, txd int64
		)
		if err := rows.Scan(&s.Endpoint, &lastHandshake, &s.FirstSeen, &s.LastSeen, &rx, &tx, &rxd, &txd, &s.Allowed); err != nil {
			return nil, fmt.Errorf("scanning session row for %s/%s: %w", interfaceName, peerID, wgerr.ErrDbUnavailable)
		}
		s.LastHandshake = lastHandshake
		s.RxBytes, s.TxBytes, s.RxDelta, s.TxDelta = uint64(rx), uint64(tx), uint64(rxd), uint64(txd)
		if lastHandshake != nil {
			age := int64(now.Sub(*lastHandshake).Seconds())
			s.HandshakeAgeSeconds = &age
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions for %s/%s: %w", interfaceName, peerID, wgerr.ErrDbUnavailable)
	}
	return out, nil
}
