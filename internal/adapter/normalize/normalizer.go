// Package normalize cleans raw extracted text before segmentation.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	spaceRun     = regexp.MustCompile(`[ \t]{2,}`)
	blankRun     = regexp.MustCompile(`\n{3,}`)
)

// Normalize applies line-ending, control character, NFKC and whitespace
// normalization. It never fails and Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlChars.ReplaceAllString(text, "")
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, "\u200b", "")
	text = trimLineEnds(text)
	text = spaceRun.ReplaceAllString(text, " ")
	text = blankRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Lines splits text into lines with CR/LF normalized, control characters
// removed and trailing whitespace trimmed.
func Lines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = controlChars.ReplaceAllString(strings.TrimRightFunc(line, unicode.IsSpace), "")
	}
	return lines
}

func trimLineEnds(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.Join(lines, "\n")
}

// RuneLen is the character length used for every size limit.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// IsCJK reports whether r is a CJK unified ideograph.
func IsCJK(r rune) bool {
	return r >= '\u4e00' && r <= '\u9fff'
}

// ContainsCJK reports whether s has at least one CJK unified ideograph.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if IsCJK(r) {
			return true
		}
	}
	return false
}
