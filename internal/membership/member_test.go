package membership

import (
	"strings"
	"testing"
)

func TestHealth_LatticeOrdering(t *testing.T) {
	if !Alive.Less(Suspect) {
		t.Error("expected Alive < Suspect")
	}
	if !Suspect.Less(Confirmed) {
		t.Error("expected Suspect < Confirmed")
	}
	if Confirmed.Less(Alive) {
		t.Error("expected Confirmed not < Alive")
	}
	if Alive.Less(Alive) {
		t.Error("expected a health to never be Less than itself")
	}
}

func TestNewMemberID_NoDashesAndUnique(t *testing.T) {
	a := NewMemberID()
	b := NewMemberID()

	if strings.Contains(a, "-") {
		t.Errorf("expected no dashes in a member id, got %q", a)
	}
	if a == b {
		t.Error("expected two freshly generated ids to differ")
	}
}
