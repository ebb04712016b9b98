package gateway

import (
	"strings"
	"unicode"
)

// maxSpeakableRunes bounds one synthesis request. Long replies are split at
// sentence boundaries so playback can start before the whole reply is
// rendered.
const maxSpeakableRunes = 280

// SplitSpeakable breaks reply text into chunks suitable for streaming
// synthesis. Splits happen at sentence ends where possible, falling back to
// word boundaries for run-on text. Empty input yields no chunks.
func SplitSpeakable(text string, maxRunes int) []string {
	text = collapseWhitespace(text)
	if text == "" {
		return nil
	}
	if maxRunes <= 0 {
		maxRunes = maxSpeakableRunes
	}

	var chunks []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentRunes = 0
	}

	for _, sentence := range splitSentences(text) {
		runes := len([]rune(sentence))
		if runes > maxRunes {
			// A single oversized sentence: hard-split on words.
			flush()
			chunks = append(chunks, splitWords(sentence, maxRunes)...)
			continue
		}
		if currentRunes > 0 && currentRunes+runes+1 > maxRunes {
			flush()
		}
		if currentRunes > 0 {
			current.WriteByte(' ')
			currentRunes++
		}
		current.WriteString(sentence)
		currentRunes += runes
	}
	flush()
	return chunks
}

func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(b.String())
			if s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(text string, maxRunes int) []string {
	var out []string
	var b strings.Builder
	count := 0
	for _, word := range strings.Fields(text) {
		wr := len([]rune(word))
		if count > 0 && count+wr+1 > maxRunes {
			out = append(out, b.String())
			b.Reset()
			count = 0
		}
		if count > 0 {
			b.WriteByte(' ')
			count++
		}
		b.WriteString(word)
		count += wr
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return strings.TrimSpace(b.String())
}
