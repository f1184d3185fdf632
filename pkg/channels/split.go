package channels

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks content into chunks of at most maxLen bytes,
// preferring paragraph, then line, then word boundaries. Chunks never
// split a UTF-8 sequence.
func SplitMessage(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}

		cut := findCutPoint(content, maxLen)
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	return chunks
}

func findCutPoint(content string, maxLen int) int {
	if idx := strings.LastIndex(content[:maxLen], "\n\n"); idx > 0 {
		return idx + 2
	}

	if idx := strings.LastIndex(content[:maxLen], "\n"); idx > 0 {
		return idx + 1
	}

	if idx := strings.LastIndex(content[:maxLen], " "); idx > 0 {
		return idx + 1
	}

	return runeAlignedCut(content, maxLen)
}

func runeAlignedCut(content string, maxLen int) int {
	if maxLen >= len(content) {
		return len(content)
	}
	for maxLen > 0 && !utf8.RuneStart(content[maxLen]) {
		maxLen--
	}
	if maxLen == 0 {
		_, size := utf8.DecodeRuneInString(content)
		return size
	}
	return maxLen
}
