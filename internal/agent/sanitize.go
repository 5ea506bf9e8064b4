package agent

import (
	"regexp"
	"strings"
)

// silentToken marks a turn that intentionally produces no chat reply.
const silentToken = "NO_REPLY"

var (
	thinkingTagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<think>.*?</think>`),
		regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
		regexp.MustCompile(`(?is)<thought>.*?</thought>`),
		regexp.MustCompile(`(?is)<antthinking>.*?</antthinking>`),
	}
	finalTagPattern          = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
	leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)

// cleanReplyText strips model artifacts that must not reach an iMessage
// chat. A silent reply cleans to "".
func cleanReplyText(text string) string {
	if text == "" {
		return ""
	}
	text = stripThinkingTags(text)
	text = finalTagPattern.ReplaceAllString(text, "")
	text = stripMediaLines(text)
	text = collapseDuplicateBlocks(text)
	text = leadingBlankLinesPattern.ReplaceAllString(text, "")
	text = strings.TrimRight(text, " \t\r\n")
	if isSilentReply(text) {
		return ""
	}
	return text
}

func stripThinkingTags(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") &&
		!strings.Contains(lower, "<antthinking") {
		return text
	}
	for _, pat := range thinkingTagPatterns {
		text = pat.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// stripMediaLines drops MEDIA: lines; media travels in the payload fields.
func stripMediaLines(text string) string {
	if !strings.Contains(text, "MEDIA:") {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "MEDIA:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func collapseDuplicateBlocks(text string) string {
	blocks := strings.Split(text, "\n\n")
	if len(blocks) <= 1 {
		return text
	}
	var out []string
	for _, b := range blocks {
		t := strings.TrimSpace(b)
		if t == "" {
			continue
		}
		if len(out) > 0 && t == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, b)
	}
	return strings.Join(out, "\n\n")
}

// isSilentReply reports whether text is the silent token, alone or at
// either edge of the text on a word boundary.
func isSilentReply(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if t == silentToken {
		return true
	}
	if rest, ok := strings.CutPrefix(t, silentToken); ok && !isWordByte(rest[0]) {
		return true
	}
	if before, ok := strings.CutSuffix(t, silentToken); ok && !isWordByte(before[len(before)-1]) {
		return true
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
