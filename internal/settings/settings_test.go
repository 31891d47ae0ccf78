package settings

import (
	"errors"
	"testing"

	"github.com/anvil-lab/wg-limiterd/internal/wgerr"
)

func ptr64(v int64) *int64 { return &v }
func pstr(v string) *string { return &v }

func TestNewPeerLimitSettingsDefaults(t *testing.T) {
	got, err := NewPeerLimitSettings(RawPeerLimitRow{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Default()
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNewPeerLimitSettingsMaxConcurrentZeroOrNegativeIsUnlimited(t *testing.T) {
	for _, v := range []int64{0, -1, -100} {
		got, err := NewPeerLimitSettings(RawPeerLimitRow{MaxConcurrent: ptr64(v)})
		if err != nil {
			t.Fatalf("unexpected error for %d: %v", v, err)
		}
		if got.MaxConcurrent != nil {
			t.Fatalf("expected unlimited for max_concurrent=%d, got %v", v, *got.MaxConcurrent)
		}
	}
}

func TestNewPeerLimitSettingsMaxConcurrentPositive(t *testing.T) {
	got, err := NewPeerLimitSettings(RawPeerLimitRow{MaxConcurrent: ptr64(3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MaxConcurrent == nil || *got.MaxConcurrent != 3 {
		t.Fatalf("expected max_concurrent=3, got %v", got.MaxConcurrent)
	}
}

func TestNewPeerLimitSettingsTTLClamp(t *testing.T) {
	got, err := NewPeerLimitSettings(RawPeerLimitRow{SessionTTL: ptr64(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TTLSeconds != 1 {
		t.Fatalf("expected ttl clamped to 1, got %d", got.TTLSeconds)
	}

	got, err = NewPeerLimitSettings(RawPeerLimitRow{SessionTTL: ptr64(-50)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TTLSeconds != 1 {
		t.Fatalf("expected ttl clamped to 1, got %d", got.TTLSeconds)
	}
}

func TestNewPeerLimitSettingsGraceClamp(t *testing.T) {
	got, err := NewPeerLimitSettings(RawPeerLimitRow{GraceSeconds: ptr64(-10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.GraceSeconds != 0 {
		t.Fatalf("expected grace clamped to 0, got %d", got.GraceSeconds)
	}
}

func TestNewPeerLimitSettingsInvalidPolicyRejected(t *testing.T) {
	_, err := NewPeerLimitSettings(RawPeerLimitRow{ConnectionPolicy: pstr("fastest_wins")})
	if err == nil {
		t.Fatalf("expected an error for an unrecognized policy")
	}
	if !errors.Is(err, wgerr.ErrInvalidPolicy) {
		t.Fatalf("expected wgerr.ErrInvalidPolicy, got %v", err)
	}
}

func TestNewPeerLimitSettingsValidPolicies(t *testing.T) {
	for _, p := range []string{"new_wins", "old_wins"} {
		got, err := NewPeerLimitSettings(RawPeerLimitRow{ConnectionPolicy: pstr(p)})
		if err != nil {
			t.Fatalf("unexpected error for policy %q: %v", p, err)
		}
		if string(got.Policy) != p {
			t.Fatalf("got policy %q, want %q", got.Policy, p)
		}
	}
}
