package state

import (
	"github.com/anvil-lab/wg-limiterd/internal/tracker"
)

// RecordsFromSessions builds the rows to persist for one peer from the
// tracker's current snapshot and the set of endpoints the eviction policy
// allows. Pure and DB-free so it can be exercised without a connection.
func RecordsFromSessions(sessions []tracker.Session, allowed []tracker.Session) []SessionRecord {
	allowedSet := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		allowedSet[s.Endpoint] = true
	}

	records := make([]SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		records = append(records, SessionRecord{
			Endpoint:      s.Endpoint,
			LastHandshake: s.LastHandshake,
			FirstSeen:     s.FirstSeen,
			LastSeen:      s.LastSeen,
			RxBytes:       s.RxBytes,
			TxBytes:       s.TxBytes,
			RxDelta:       s.RxDelta,
			TxDelta:       s.TxDelta,
			IsAllowed:     allowedSet[s.Endpoint],
		})
	}
	return records
}
