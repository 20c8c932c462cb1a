package cache

import (
	"regexp"
	"strings"
)

// Key patterns use '*' as the only wildcard, matching any run of characters.
// Each backend translates the pattern to whatever its engine matches natively
// (glob for redis, LIKE for sqlite, regex for clover and memory).

func patternToRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

func patternToLike(pattern string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`%`, `\%`,
		`_`, `\_`,
		`*`, `%`,
	)
	return replacer.Replace(pattern)
}
