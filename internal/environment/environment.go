// Package environment implements the pure branch-to-environment matcher
// (C1). It has no side effects and no dependencies: given a branch name and
// an ordered list of environments it always returns the same answer.
package environment

import "strings"

// Environment is the subset of the Project.environments entity the matcher
// needs. Index 0 is always production.
type Environment struct {
	ID     string
	Slug   string
	Branch string // literal, "prefix*", "*suffix", or "prefix*suffix"
}

// Match returns the environment that branch resolves to, or ok=false if
// none matches. Production (environments[0]) wins on exact equality
// unconditionally, before any glob in the rest of the list is considered.
func Match(branch string, environments []Environment) (Environment, bool) {
	if len(environments) == 0 {
		return Environment{}, false
	}
	if environments[0].Branch == branch {
		return environments[0], true
	}
	for _, env := range environments[1:] {
		if matchesPattern(branch, env.Branch) {
			return env, true
		}
	}
	return Environment{}, false
}

func matchesPattern(branch, pattern string) bool {
	star := strings.IndexByte(pattern, '*')
	if star == -1 {
		return branch == pattern
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	switch {
	case prefix != "" && suffix != "":
		return strings.HasPrefix(branch, prefix) && strings.HasSuffix(branch, suffix) && len(branch) >= len(prefix)+len(suffix)
	case suffix != "":
		return strings.HasSuffix(branch, suffix)
	case prefix != "":
		return strings.HasPrefix(branch, prefix)
	default:
		return true // pattern is just "*"
	}
}

// Group partitions branches by the environment they match, keyed by
// environment slug, with unmatched branches collected under "unmatched".
func Group(branches []string, environments []Environment) map[string][]string {
	out := make(map[string][]string)
	for _, b := range branches {
		env, ok := Match(b, environments)
		key := "unmatched"
		if ok {
			key = env.Slug
		}
		out[key] = append(out[key], b)
	}
	return out
}
