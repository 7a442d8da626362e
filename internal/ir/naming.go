package ir

import "strings"

// snakeToCamel converts a proto field/rpc name ("user_id", "SayHello") into
// a GraphQL-conventional camelCase name ("userId", "sayHello"). Names with
// no underscores are just lower-cased at the first rune, which is what a
// PascalCase rpc name needs to become a field name.
func snakeToCamel(s string) string {
	if s == "" {
		return s
	}
	if !strings.Contains(s, "_") {
		return lowerFirst(s)
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(lowerFirst(p))
		} else {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
		}
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// shortName returns the last path segment of a dotted fully-qualified proto
// name, e.g. "myapp.v1.User" -> "User".
func shortName(fqn string) string {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}
