package httpx

import "strings"

// SplitPath trims prefix and returns the remaining non-empty path segments.
func SplitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
