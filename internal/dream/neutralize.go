package dream

import (
	"regexp"
	"strings"
)

// Substitutions applied to every outbound image prompt regardless of what the
// model produced. Deterministic and idempotent: applying the pass twice yields
// the same text. English terms match case-insensitively on word boundaries;
// Korean terms are plain replacements since word boundaries do not apply.
var englishSubstitutions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)\bsoldiers\b`), "figures"},
	{regexp.MustCompile(`(?i)\bsoldier\b`), "a figure"},
	{regexp.MustCompile(`(?i)\bweapons?\b`), "abstract shapes"},
	{regexp.MustCompile(`(?i)\bguns?\b`), "abstract shapes"},
	{regexp.MustCompile(`(?i)\bknives\b`), "shards of light"},
	{regexp.MustCompile(`(?i)\bknife\b`), "a shard of light"},
	{regexp.MustCompile(`(?i)\bblood\b`), "crimson mist"},
	{regexp.MustCompile(`(?i)\bcorpses?\b`), "still silhouettes"},
	{regexp.MustCompile(`(?i)\bsuicide\b`), "deep stillness"},
	{regexp.MustCompile(`(?i)\bself[- ]harm\b`), "inner struggle"},
}

// Only multi-character terms are listed: short fragments like 피 appear inside
// harmless words (피어나다) and cannot be replaced blindly.
var koreanSubstitutions = [][2]string{
	{"지배", "화합"},
	{"군인", "한 사람"},
	{"핏자국", "붉은 안개"},
}

// NeutralizeSensitiveTerms rewrites sensitive terms in an image prompt into
// policy-safe equivalents. This runs after the model, as a hard guarantee on
// what reaches the image API.
func NeutralizeSensitiveTerms(prompt string) string {
	out := prompt
	for _, sub := range englishSubstitutions {
		out = sub.pattern.ReplaceAllString(out, sub.replacement)
	}
	for _, sub := range koreanSubstitutions {
		out = strings.ReplaceAll(out, sub[0], sub[1])
	}
	return out
}
