package pipeline

import (
	"regexp"
	"strings"
)

// linkPatterns are the URL and invite-link shapes removed by anti-link.
var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://(www\.)?[-a-z0-9@:%._+~#=]{1,256}\.[a-z0-9()]{1,6}\b([-a-z0-9()@:%_+.~#?&/=]*)`),
	regexp.MustCompile(`(?i)chat\.whatsapp\.com/[a-z0-9]+`),
	regexp.MustCompile(`(?i)whatsapp\.com/channel/[a-z0-9]+`),
	regexp.MustCompile(`(?i)t\.me/[a-z0-9_]+`),
	regexp.MustCompile(`(?i)telegram\.me/[a-z0-9_]+`),
	regexp.MustCompile(`(?i)instagram\.com/[a-z0-9_.]+`),
	regexp.MustCompile(`(?i)facebook\.com/[a-z0-9_.]+`),
	regexp.MustCompile(`(?i)twitter\.com/[a-z0-9_]+`),
	regexp.MustCompile(`(?i)youtube\.com/[a-z0-9_]+`),
	regexp.MustCompile(`(?i)tiktok\.com/@[a-z0-9_.]+`),
	regexp.MustCompile(`(?i)snapchat\.com/add/[a-z0-9_.]+`),
	regexp.MustCompile(`(?i)discord\.gg/[a-z0-9]+`),
	regexp.MustCompile(`(?i)discord\.com/invite/[a-z0-9]+`),
}

// ContainsLink reports whether text matches any anti-link pattern.
func ContainsLink(text string) bool {
	for _, p := range linkPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// ContainsBadWord reports whether any whitespace-separated token of text,
// case-folded, is in words.
func ContainsBadWord(text string, words []string) (string, bool) {
	if len(words) == 0 {
		return "", false
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if _, ok := set[tok]; ok {
			return tok, true
		}
	}
	return "", false
}
