package snapshot

import (
	"path/filepath"
	"testing"

	"swimguard/internal/membership"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "snap"))
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	defer s.Close()

	members := []membership.MembershipRumor{
		{Member: membership.Member{ID: "a", Address: "a:7946", Incarnation: 2}, Health: membership.Alive},
		{Member: membership.Member{ID: "b", Address: "b:7946", Persistent: true}, Health: membership.Suspect},
	}

	if err := s.Save(members); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(got) != len(members) {
		t.Fatalf("expected %d members back, got %d", len(members), len(got))
	}

	byID := make(map[string]membership.MembershipRumor, len(got))
	for _, m := range got {
		byID[m.Member.ID] = m
	}
	if byID["a"].Member.Incarnation != 2 {
		t.Errorf("expected a's incarnation to round-trip, got %d", byID["a"].Member.Incarnation)
	}
	if !byID["b"].Member.Persistent {
		t.Error("expected b's Persistent flag to round-trip")
	}
	if byID["b"].Health != membership.Suspect {
		t.Errorf("expected b's health to round-trip as Suspect, got %v", byID["b"].Health)
	}
}

func TestStore_LoadBeforeSaveReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "snap"))
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	defer s.Close()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("unexpected error loading an empty store: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected an empty slice, got %d members", len(got))
	}
}
