// Package chunker assembles segmented blocks into bounded, overlapping chunks.
package chunker

import (
	"regexp"
	"strings"

	"coursekb/internal/domain"
)

// Limits bounds chunk sizes in characters.
type Limits struct {
	MinLen        int
	MaxLen        int
	Overlap       int
	StructuredMax int // split size for table and code blocks
}

func DefaultLimits() Limits {
	return Limits{MinLen: 80, MaxLen: 600, Overlap: 60, StructuredMax: 1000}
}

func QALimits() Limits {
	return Limits{MinLen: 200, MaxLen: 400, Overlap: 40, StructuredMax: 1000}
}

const pieceSeparator = "\n\n"

var (
	tableRow = regexp.MustCompile(`^[\s\-|:]+$`)
	codeLine = regexp.MustCompile(`^\s*(from|import|def|class|if|for|while|with)\b`)
)

func isTableBlock(text string) bool {
	lines := 0
	tableLike := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++
		if strings.Contains(line, "|") || tableRow.MatchString(line) {
			tableLike++
		}
	}
	return lines >= 2 && tableLike >= 2
}

func isCodeBlock(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "```") || codeLine.MatchString(line) {
			return true
		}
	}
	return false
}

func isStructured(text string) bool {
	return isTableBlock(text) || isCodeBlock(text)
}

func (l Limits) splitSize(text string) int {
	if l.StructuredMax > 0 && isStructured(text) {
		return l.StructuredMax
	}
	return l.MaxLen
}

type assembler struct {
	limits   Limits
	payloads []domain.Payload
	pieces   []string
	length   int // rune length of the joined pieces
	title    string
}

func (a *assembler) flush() {
	if len(a.pieces) > 0 {
		if text := strings.TrimSpace(strings.Join(a.pieces, pieceSeparator)); text != "" {
			a.payloads = append(a.payloads, domain.Payload{Text: text, TitlePath: a.title})
		}
	}
	a.pieces = nil
	a.length = 0
	a.title = ""
}

func (a *assembler) push(piece string) {
	if len(a.pieces) > 0 {
		a.length += runeLen(pieceSeparator)
	}
	a.pieces = append(a.pieces, piece)
	a.length += runeLen(piece)
}

func (a *assembler) add(piece, title string, structured bool) {
	size := runeLen(piece)
	if a.title != "" && title != a.title && a.length >= a.limits.MinLen {
		a.flush()
	}
	// a chunk still below MinLen is topped up to MaxLen from the piece
	for !structured && len(a.pieces) > 0 && a.length < a.limits.MinLen && a.length+size+2 > a.limits.MaxLen {
		room := a.limits.MaxLen - a.length - 2
		if room <= 0 {
			break
		}
		head, rest := cutHead(piece, room)
		a.push(head)
		if rest == "" {
			return
		}
		piece, size = rest, runeLen(rest)
	}
	if len(a.pieces) > 0 && a.length+size+2 > a.limits.MaxLen && a.length >= a.limits.MinLen {
		a.flush()
		if n := len(a.payloads); n > 0 && a.payloads[n-1].TitlePath == title {
			tail := overlapTail(a.payloads[n-1].Text, a.limits.Overlap)
			// the overlap never pushes a chunk past MaxLen
			if tail != "" && runeLen(tail)+2+size <= a.limits.MaxLen {
				a.title = title
				a.push(tail)
			}
		}
	}
	if len(a.pieces) == 0 {
		a.title = title
	}
	a.push(piece)
}

// Assemble packs blocks into payloads. Pieces of one chunk are joined with a
// blank line; a chunk is closed when the title changes or the next piece would
// overflow MaxLen, provided it already holds MinLen characters. A chunk that
// continues the previous chunk's title starts with a sentence-aligned tail of
// it. A short final chunk is merged into its predecessor.
func Assemble(blocks []domain.Block, limits Limits) []domain.Payload {
	a := &assembler{limits: limits}
	for _, block := range blocks {
		size := limits.splitSize(block.Text)
		for _, piece := range splitLongText(block.Text, size) {
			a.add(piece, block.TitlePath, size != limits.MaxLen)
		}
	}
	a.flush()
	return mergeShortTail(a.payloads, limits)
}

// mergeShortTail folds a final chunk shorter than MinLen into its
// predecessor. When the merged text would pass MaxLen, trailing text of the
// predecessor moves into the final chunk instead.
func mergeShortTail(payloads []domain.Payload, limits Limits) []domain.Payload {
	n := len(payloads)
	if n < 2 || runeLen(payloads[n-1].Text) >= limits.MinLen {
		return payloads
	}
	prev, last := &payloads[n-2], &payloads[n-1]
	merged := strings.TrimSpace(prev.Text + pieceSeparator + last.Text)
	if runeLen(merged) > limits.MaxLen && !isStructured(prev.Text) {
		sep := runeLen(pieceSeparator)
		need := limits.MinLen - runeLen(last.Text) - sep
		most := limits.MaxLen - runeLen(last.Text) - sep
		if head, moved, ok := cutTail(prev.Text, need, most, limits.MinLen); ok {
			prev.Text = head
			last.Text = moved + pieceSeparator + last.Text
			return payloads
		}
	}
	prev.Text = merged
	return payloads[:n-1]
}
