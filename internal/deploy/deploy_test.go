package deploy

import (
	"testing"

	"drydock/internal/store"
)

func TestNewIDIsThirtyTwoHexChars(t *testing.T) {
	id := newID()
	if len(id) != 32 {
		t.Fatalf("expected 32 hex chars (16 random bytes), got %d: %q", len(id), id)
	}
	for _, r := range id {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Fatalf("id %q contains non-hex character %q", id, r)
		}
	}
	if id == newID() {
		t.Fatalf("expected two calls to produce distinct ids")
	}
}

func TestEnvironmentSlugFallsBackToIDWhenUnknown(t *testing.T) {
	project := store.Project{Environments: []store.Environment{
		{ID: "prod", Slug: "production"},
		{ID: "env-1", Slug: "staging"},
	}}
	if got := environmentSlug(project, "env-1"); got != "staging" {
		t.Fatalf("expected staging, got %q", got)
	}
	if got := environmentSlug(project, "unknown"); got != "unknown" {
		t.Fatalf("expected fallback to the raw id, got %q", got)
	}
}

func TestJobIDForIsStableForOneDeployment(t *testing.T) {
	if jobIDFor("d1") != jobIDFor("d1") {
		t.Fatalf("expected jobIDFor to be deterministic per deployment id")
	}
	if jobIDFor("d1") == jobIDFor("d2") {
		t.Fatalf("expected distinct deployments to get distinct job ids")
	}
}
