package state

import (
	"testing"
	"time"

	"github.com/anvil-lab/wg-limiterd/internal/tracker"
)

func TestRecordsFromSessionsMarksAllowedFlag(t *testing.T) {
	now := time.Now().UTC()
	sessions := []tracker.Session{
		{Endpoint: "A", FirstSeen: now, LastSeen: now},
		{Endpoint: "B", FirstSeen: now, LastSeen: now},
	}
	allowed := []tracker.Session{sessions[0]}

	records := RecordsFromSessions(sessions, allowed)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	byEndpoint := map[string]SessionRecord{}
	for _, r := range records {
		byEndpoint[r.Endpoint] = r
	}

	if !byEndpoint["A"].IsAllowed {
		t.Fatalf("expected A to be marked allowed")
	}
	if byEndpoint["B"].IsAllowed {
		t.Fatalf("expected B to be marked not allowed")
	}
}

func TestRecordsFromSessionsEmptyInput(t *testing.T) {
	records := RecordsFromSessions(nil, nil)
	if len(records) != 0 {
		t.Fatalf("expected no records for empty input, got %d", len(records))
	}
}
