package suggest

import (
	"regexp"
	"strings"
	"unicode"
)

var apiKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`),
	regexp.MustCompile(`^sk-(ant-|proj-)?[A-Za-z0-9_-]{17,}$`),
	regexp.MustCompile(`^gh[pousr]_[A-Za-z0-9]{36,}$`),
	regexp.MustCompile(`^github_pat_[A-Za-z0-9_]{22,}$`),
	regexp.MustCompile(`^(AKIA|ASIA)[0-9A-Z]{16}$`),
	regexp.MustCompile(`^xox[abposr]-[A-Za-z0-9-]{10,}$`),
}

var opaqueToken = regexp.MustCompile(`^[A-Za-z0-9_-]{32,256}$`)

// LooksLikeAPIKey reports whether s resembles a provider credential: a known
// key prefix, or a single long token mixing upper case, lower case and
// digits.
func LooksLikeAPIKey(s string) bool {
	s = strings.TrimSpace(s)
	for _, pattern := range apiKeyPatterns {
		if pattern.MatchString(s) {
			return true
		}
	}
	if !opaqueToken.MatchString(s) {
		return false
	}
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}
