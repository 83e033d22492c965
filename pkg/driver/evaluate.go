package driver

import (
	"regexp"
	"strings"
)

var (
	leadingReturn = regexp.MustCompile(`^return\b`)

	// functionLike matches scripts that are already callable or self-invoking:
	// function expressions, arrow functions and parenthesized IIFEs.
	functionLike = []*regexp.Regexp{
		regexp.MustCompile(`^(async\s+)?function\b`),
		regexp.MustCompile(`^(async\s*)?\([^()]*\)\s*=>`),
		regexp.MustCompile(`^(async\s+)?[A-Za-z_$][\w$]*\s*=>`),
		regexp.MustCompile(`^\(`),
	}
)

// PrepareScript returns the script to hand to the engine. A statement body
// with a top-level return is wrapped in an arrow IIFE, since a bare return is
// a syntax error outside a function. Everything else is passed through.
func PrepareScript(script string) string {
	trimmed := strings.TrimSpace(script)
	if !leadingReturn.MatchString(trimmed) || looksLikeFunction(trimmed) {
		return script
	}
	return "(() => {\n" + trimmed + "\n})()"
}

func looksLikeFunction(script string) bool {
	for _, re := range functionLike {
		if re.MatchString(script) {
			return true
		}
	}
	return false
}
