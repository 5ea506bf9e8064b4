package channels

import (
	"regexp"
	"strings"
)

// BuildMentionPatterns compiles the mention regexes for an agent: its display
// name and aliases (as whole words, optional leading @) plus raw patterns.
// Raw patterns that fail to compile are skipped. All matching is case-insensitive.
func BuildMentionPatterns(name string, aliases, raw []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	seen := make(map[string]bool)
	add := func(expr string) {
		if seen[expr] {
			return
		}
		seen[expr] = true
		if re, err := regexp.Compile("(?i)" + expr); err == nil {
			out = append(out, re)
		}
	}

	for _, n := range append([]string{name}, aliases...) {
		n = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(n), "@"))
		if n == "" {
			continue
		}
		add(`(?:^|[^\p{L}\p{N}_])@?` + regexp.QuoteMeta(n) + `(?:$|[^\p{L}\p{N}_])`)
	}
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			add(p)
		}
	}
	return out
}

// MatchesMention reports whether text matches any mention pattern.
func MatchesMention(text string, patterns []*regexp.Regexp) bool {
	if text == "" {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// controlCommands are operator commands that may bypass mention gating for
// authorized senders.
var controlCommands = map[string]bool{
	"/help":       true,
	"/commands":   true,
	"/status":     true,
	"/whoami":     true,
	"/new":        true,
	"/reset":      true,
	"/stop":       true,
	"/restart":    true,
	"/compact":    true,
	"/model":      true,
	"/think":      true,
	"/verbose":    true,
	"/activation": true,
	"/send":       true,
}

// HasControlCommand reports whether text starts with a known control command,
// e.g. "/status" or "/reset@clawd now".
func HasControlCommand(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return false
	}
	cmd := strings.Fields(text)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.SplitN(cmd, ":", 2)[0]
	return controlCommands[strings.ToLower(cmd)]
}
