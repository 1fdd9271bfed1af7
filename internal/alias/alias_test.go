package alias

import "testing"

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"feature/JIRA-42_Foo": "feature-jira-42-foo",
		"main":                "main",
		"Release/1.2":         "release-1-2",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeIsStable(t *testing.T) {
	if Sanitize("a/b") != Sanitize("a/b") {
		t.Fatalf("Sanitize must be a pure function")
	}
}

func TestEnvironmentAliasProduction(t *testing.T) {
	if got := EnvironmentAlias("blog", "prod", "production"); got != "blog" {
		t.Fatalf("expected bare slug for production, got %q", got)
	}
}

func TestEnvironmentAliasNonProduction(t *testing.T) {
	if got := EnvironmentAlias("blog", "stg1", "staging"); got != "blog-env-staging" {
		t.Fatalf("unexpected environment alias: %q", got)
	}
}

func TestEnvironmentIDAlias(t *testing.T) {
	if got := EnvironmentIDAlias("blog", "stg1"); got != "blog-env-id-stg1" {
		t.Fatalf("unexpected environment-id alias: %q", got)
	}
}

func TestBranchAlias(t *testing.T) {
	if got := BranchAlias("blog", "main"); got != "blog-branch-main" {
		t.Fatalf("unexpected branch alias: %q", got)
	}
}
