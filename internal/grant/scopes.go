package grant

import "strings"

// subset reports whether every element of want is present in have.
func subset(want, have []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if w == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// intersect returns the elements of a that are also in b, preserving a's
// order.
func intersect(a, b []string) []string {
	var out []string
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

// SplitScopes parses a space-delimited scope parameter.
func SplitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// JoinScopes renders scopes as a space-delimited string.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
