package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const strongTerminators = "。！？!?；;"

// splitSentences cuts text after strong terminators, and after '.' when the
// next word starts with an upper-case letter or digit. The returned spans keep
// their trailing whitespace so that concatenating them yields text again.
func splitSentences(text string) []string {
	var spans []string
	start := 0
	for i, r := range text {
		end := i + utf8.RuneLen(r)
		switch {
		case strings.ContainsRune(strongTerminators, r):
		case r == '.':
			if !startsNewSentence(text[end:]) {
				continue
			}
		default:
			continue
		}
		// absorb following whitespace into this span
		for end < len(text) {
			next, size := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(next) {
				break
			}
			end += size
		}
		if end > start {
			spans = append(spans, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		spans = append(spans, text[start:])
	}
	return spans
}

func startsNewSentence(rest string) bool {
	trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
	if len(trimmed) == len(rest) || trimmed == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(trimmed)
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}

// splitLongText packs sentences greedily into pieces of at most maxLen
// characters. A sentence longer than maxLen is cut at rune boundaries.
func splitLongText(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 || runeLen(text) <= maxLen {
		return []string{text}
	}

	var pieces []string
	buffer := ""
	emit := func() {
		if s := strings.TrimSpace(buffer); s != "" {
			pieces = append(pieces, s)
		}
		buffer = ""
	}

	for _, span := range splitSentences(text) {
		if runeLen(strings.TrimSpace(span)) > maxLen {
			emit()
			pieces = append(pieces, hardSplit(strings.TrimSpace(span), maxLen)...)
			continue
		}
		if buffer == "" || runeLen(strings.TrimSpace(buffer+span)) <= maxLen {
			buffer += span
			continue
		}
		emit()
		buffer = span
	}
	emit()
	return pieces
}

func hardSplit(text string, maxLen int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := maxLen
		if n > len(runes) {
			n = len(runes)
		}
		if s := strings.TrimSpace(string(runes[:n])); s != "" {
			out = append(out, s)
		}
		runes = runes[n:]
	}
	return out
}

// overlapTail returns whole trailing sentences of text totalling at most
// limit characters. When the last sentence alone is longer, its last limit
// characters are returned.
func overlapTail(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	spans := splitSentences(strings.TrimSpace(text))
	if len(spans) == 0 {
		return ""
	}

	last := strings.TrimSpace(spans[len(spans)-1])
	if runeLen(last) > limit {
		runes := []rune(last)
		return strings.TrimSpace(string(runes[len(runes)-limit:]))
	}

	tail := ""
	for i := len(spans) - 1; i >= 0; i-- {
		candidate := spans[i] + tail
		if runeLen(strings.TrimSpace(candidate)) > limit {
			break
		}
		tail = candidate
	}
	return strings.TrimSpace(tail)
}

// cutHead splits off the leading sentences of text that fit in room
// characters. When the first sentence does not fit it is cut at room.
func cutHead(text string, room int) (head, rest string) {
	for _, span := range splitSentences(text) {
		if runeLen(strings.TrimSpace(head+span)) > room {
			break
		}
		head += span
	}
	if strings.TrimSpace(head) == "" {
		runes := []rune(text)
		if room > len(runes) {
			room = len(runes)
		}
		head = string(runes[:room])
	}
	return strings.TrimSpace(head), strings.TrimSpace(text[len(head):])
}

// cutTail splits at least need trailing characters off text, leaving at least
// keep characters in front and moving at most most. Whole sentences are
// moved when possible; otherwise the cut falls inside a sentence.
func cutTail(text string, need, most, keep int) (head, moved string, ok bool) {
	if need < 1 {
		need = 1
	}
	fits := func(h, m string) bool {
		return m != "" && runeLen(h) >= keep && runeLen(m) <= most
	}

	spans := splitSentences(text)
	tail := ""
	for i := len(spans) - 1; i > 0; i-- {
		tail = spans[i] + tail
		if runeLen(strings.TrimSpace(tail)) >= need {
			head, moved = strings.TrimSpace(strings.Join(spans[:i], "")), strings.TrimSpace(tail)
			if fits(head, moved) {
				return head, moved, true
			}
			break
		}
	}

	runes := []rune(text)
	cut := len(runes) - need
	for cut > 0 && unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut <= 0 {
		return "", "", false
	}
	head, moved = strings.TrimSpace(string(runes[:cut])), strings.TrimSpace(string(runes[cut:]))
	if !fits(head, moved) {
		return "", "", false
	}
	return head, moved, true
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
