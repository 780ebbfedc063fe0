// Package preprocess normalizes raw passage and query text before tokenization.
package preprocess

import (
	"regexp"
	"strings"
)

// space is the full Unicode whitespace set. RE2's \s is ASCII only, which
// would let a link swallow the word after a no-break or em space.
const space = `\s\v\x{1c}-\x{1f}\x{85}\p{Z}`

var (
	// urlPattern matches http, https and ftp links as well as bare www. hosts.
	urlPattern = regexp.MustCompile(`(((https?|ftp)://)|(www.))[^` + space + `/$.?#].[^` + space + `]*`)

	// tokenPattern splits words from the punctuation around them.
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}\p{M}_]+|[^\p{L}\p{N}\p{M}_` + space + `]`)
)

// Clean strips URLs, folds newlines into spaces and drops dollar signs.
//
// The three steps are repeated until the text stops changing, so removing a
// "$" can never expose a new URL match and Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	for {
		next := cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func cleanOnce(text string) string {
	text = urlPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.ReplaceAll(text, "$", "")
}

// CleanAll applies Clean to every element and returns a new slice.
func CleanAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Clean(t)
	}
	return out
}

// WordCount returns the number of word and punctuation tokens in text.
// "Hello, world!" counts as four.
func WordCount(text string) int {
	return len(tokenPattern.FindAllStringIndex(text, -1))
}

// HasURL reports whether text still contains something Clean would remove as a link.
func HasURL(text string) bool {
	return urlPattern.MatchString(text)
}
