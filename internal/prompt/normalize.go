package prompt

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeSite trims, lowercases and collapses whitespace in a site label.
func NormalizeSite(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeTags trims tags and drops empties and duplicates, keeping order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateTokens estimates token count at roughly four characters per token.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(CountChars(text)) / 4))
}

// Truncate shortens text to at most n runes, appending an ellipsis when cut.
func Truncate(text string, n int) string {
	if n <= 0 || CountChars(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "…"
}

// WithLengthMeta returns meta with lengthChars and lengthTokensEst filled in
// when the capture did not supply them. The input map is not modified.
func WithLengthMeta(meta map[string]any, text string) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if _, ok := out["lengthChars"]; !ok {
		out["lengthChars"] = CountChars(text)
	}
	if _, ok := out["lengthTokensEst"]; !ok {
		out["lengthTokensEst"] = EstimateTokens(text)
	}
	return out
}
