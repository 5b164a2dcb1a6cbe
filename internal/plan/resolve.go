// internal/plan/resolve.go
package plan

import (
	"os"
	"regexp"
)

// envRefRE matches the whole value, nothing less: "env(USER)-suffix" is a
// literal, not an indirection.
var envRefRE = regexp.MustCompile(`^env\(([^)]+)\)$`)

// IsEnvRef reports whether a step value is an env(NAME) indirection. Useful
// for logging a step without leaking the resolved secret.
func IsEnvRef(val string) bool {
	return envRefRE.MatchString(val)
}

// ResolveValue resolves an env(NAME) indirection against the process
// environment; plain values pass through untouched. An unset variable
// resolves to the empty string. Resolution happens at execution time only,
// keeping plan artifacts free of secrets.
func ResolveValue(val string) string {
	m := envRefRE.FindStringSubmatch(val)
	if m == nil {
		return val
	}
	return os.Getenv(m[1])
}
