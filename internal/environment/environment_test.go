package environment

import (
	"reflect"
	"testing"
)

func sampleEnvironments() []Environment {
	return []Environment{
		{ID: "prod", Slug: "production", Branch: "main"},
		{ID: "stg", Slug: "staging", Branch: "release/*"},
		{ID: "prev", Slug: "preview", Branch: "feat-*"},
	}
}

func TestMatchProductionWinsExact(t *testing.T) {
	env, ok := Match("main", sampleEnvironments())
	if !ok || env.Slug != "production" {
		t.Fatalf("expected production match, got %+v ok=%v", env, ok)
	}
}

func TestMatchPrefixGlob(t *testing.T) {
	env, ok := Match("feat-x", sampleEnvironments())
	if !ok || env.Slug != "preview" {
		t.Fatalf("expected preview match, got %+v ok=%v", env, ok)
	}
}

func TestMatchSuffixGlob(t *testing.T) {
	envs := append(sampleEnvironments(), Environment{ID: "hf", Slug: "hotfix", Branch: "*-hotfix"})
	env, ok := Match("login-hotfix", envs)
	if !ok || env.Slug != "hotfix" {
		t.Fatalf("expected hotfix match, got %+v ok=%v", env, ok)
	}
}

func TestMatchNoMatch(t *testing.T) {
	_, ok := Match("random", sampleEnvironments())
	if ok {
		t.Fatalf("expected no match for random branch")
	}
}

func TestMatchTiesBreakByListPosition(t *testing.T) {
	envs := []Environment{
		{ID: "prod", Slug: "production", Branch: "main"},
		{ID: "a", Slug: "a", Branch: "feat-*"},
		{ID: "b", Slug: "b", Branch: "*-x"},
	}
	env, ok := Match("feat-x", envs)
	if !ok || env.Slug != "a" {
		t.Fatalf("expected first listed match to win, got %+v ok=%v", env, ok)
	}
}

func TestMatchIsPure(t *testing.T) {
	envs := sampleEnvironments()
	first, _ := Match("feat-x", envs)
	second, _ := Match("feat-x", envs)
	if first != second {
		t.Fatalf("expected identical results across calls: %+v != %+v", first, second)
	}
}

func TestGroup(t *testing.T) {
	branches := []string{"main", "release/1.2", "feat-x", "random"}
	got := Group(branches, sampleEnvironments())
	want := map[string][]string{
		"production": {"main"},
		"staging":    {"release/1.2"},
		"preview":    {"feat-x"},
		"unmatched":  {"random"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Group mismatch\n got: %+v\nwant: %+v", got, want)
	}
}
