package channels

import "unicode"

// DefaultTextChunkLimit is the per-message text limit when none is configured.
const DefaultTextChunkLimit = 4000

// ChunkText splits text into pieces of at most limit runes. It prefers to
// break after the last newline, then after the last whitespace, in the second
// half of the window; otherwise it hard-splits. Concatenating the chunks
// yields the original text, and no UTF-8 sequence is ever split.
func ChunkText(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultTextChunkLimit
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := breakPoint(runes[:limit])
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// breakPoint returns the cut index (exclusive) within window.
func breakPoint(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i > half; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > half; i-- {
		if unicode.IsSpace(window[i]) {
			return i + 1
		}
	}
	return len(window)
}
