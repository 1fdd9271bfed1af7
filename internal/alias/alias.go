// Package alias builds the literal subdomain templates C2 assigns to a
// deployment (environment, environment-id, and branch aliases) and the
// sanitizer that turns an arbitrary branch name into a DNS-label-safe
// suffix. The alias row itself (id, subdomain, current/previous deployment,
// type) and its storage operations (Upsert/Swap/ActiveDeploymentIDs) live
// in internal/store/aliases.go against internal/store.Alias — this package
// only owns the pure naming rules spec §4.2 specifies.
package alias

import (
	"strings"
)

const maxSubdomainLen = 63

// EnvironmentAlias builds the literal subdomain template for an
// environment alias: the bare project slug for production, otherwise
// "<slug>-env-<env-slug>".
func EnvironmentAlias(projectSlug, environmentID, environmentSlug string) string {
	if environmentID == "prod" {
		return projectSlug
	}
	return projectSlug + "-env-" + environmentSlug
}

// EnvironmentIDAlias builds the stable subdomain keyed on the environment's
// opaque id rather than its (renamable) slug.
func EnvironmentIDAlias(projectSlug, environmentID string) string {
	return projectSlug + "-env-id-" + environmentID
}

// BranchAlias builds the subdomain for a branch-scoped alias.
func BranchAlias(projectSlug, branch string) string {
	return projectSlug + "-branch-" + Sanitize(branch)
}

// Sanitize lowercases branch and replaces every character outside
// [a-zA-Z0-9-] with '-', matching the spec's subdomain-sanitizer exactly:
// sanitize("feature/JIRA-42_Foo") == "feature-jira-42-foo".
func Sanitize(branch string) string {
	var b strings.Builder
	b.Grow(len(branch))
	for _, r := range strings.ToLower(branch) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if len(out) > maxSubdomainLen {
		out = out[:maxSubdomainLen]
	}
	return out
}
