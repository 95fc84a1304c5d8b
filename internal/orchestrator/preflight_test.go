package orchestrator

import (
	"context"
	"strings"
	"testing"
)

func TestPreflight_NotARepo(t *testing.T) {
	r := Preflight(context.Background(), t.TempDir(), "definitely-not-a-real-agent-binary")
	if r.OK() {
		t.Fatalf("Preflight() OK, want errors")
	}

	found := false
	for _, e := range r.Errors {
		if strings.Contains(e, "definitely-not-a-real-agent-binary") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want missing agent binary", r.Errors)
	}
}

func TestPreflight_NoAgent(t *testing.T) {
	r := Preflight(context.Background(), t.TempDir(), "")
	if r.OK() {
		t.Fatal("Preflight() OK without an agent binary")
	}
}
