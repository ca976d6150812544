package progression

import "strings"

// Label builds the member display label for a rank. Names that already carry
// any recognized rank prefix are returned unchanged.
func Label(username string, rank Rank) string {
	name := strings.TrimSpace(username)
	for _, prefix := range Prefixes() {
		if strings.HasPrefix(name, prefix) {
			return name
		}
	}
	policy, ok := policies[rank]
	if !ok || policy.Prefix == "" {
		return name
	}
	return policy.Prefix + " " + name
}
