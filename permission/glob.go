package permission

import "github.com/bmatcuk/doublestar/v4"

// matchGlob applies a POSIX-like glob (*, ?, character classes, and **
// crossing path separators) to value. An invalid pattern falls back to exact
// equality rather than reporting an error (nothing is logged): a bad pattern
// never panics or aborts the check.
func matchGlob(pattern, value string) bool {
	ok, err := doublestar.Match(pattern, value)
	if err != nil {
		return pattern == value
	}
	return ok
}
