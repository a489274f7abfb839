package featureflags

import (
	"testing"

	"projecthub/internal/models"
)

const (
	userA models.UserID = "64b7f0c2a1b2c3d4e5f60718"
	userB models.UserID = "64b7f0c2a1b2c3d4e5f60719"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	if !m.Enabled("a", userA) || !m.Enabled("c", userA) || !m.Enabled("e", userA) {
		t.Fatal("expected enabled boolean values to evaluate true")
	}
	if m.Enabled("b", userA) || m.Enabled("d", userA) || m.Enabled("f", userA) {
		t.Fatal("expected disabled boolean values to evaluate false")
	}
	if m.Enabled("missing", userA) {
		t.Fatal("unknown flags are disabled")
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%")

	if !m.Enabled("always", userA) {
		t.Fatal("100% rollout should always be enabled")
	}
	if m.Enabled("never", userA) {
		t.Fatal("0% rollout should always be disabled")
	}

	first := m.Enabled("canary", userB)
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", userB); got != first {
			t.Fatal("rollout evaluation must be deterministic per user")
		}
	}

	if m.Enabled("canary", "") {
		t.Fatal("percentage rollout requires a user")
	}
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off ")

	raw := m.Raw()
	if len(raw) != 3 {
		t.Fatalf("expected 3 parsed flags, got %d", len(raw))
	}
	if raw["x"] != "on" || raw["y"] != "20%" || raw["z"] != "off" {
		t.Fatalf("unexpected raw flags: %#v", raw)
	}

	snap := m.Snapshot(userA)
	if len(snap) != 3 {
		t.Fatalf("expected snapshot size 3, got %d", len(snap))
	}
	if names := m.Names(); len(names) != 3 || names[0] != "x" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestNilManager(t *testing.T) {
	var m *Manager
	if m.Enabled(ShowSampleProjects, userA) {
		t.Fatal("nil manager enables nothing")
	}
	if len(m.Snapshot(userA)) != 0 || len(m.Names()) != 0 {
		t.Fatal("nil manager has no flags")
	}
}
