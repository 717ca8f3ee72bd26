package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	repeatedLineMaxLen = 50
	repeatedPageRatio  = 0.6
	tocMinLines        = 5
	tocHitRatio        = 0.6
	tocLineMaxLen      = 80
	shortLineMaxLen    = 40
)

var (
	noiseLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^扫码`),
		regexp.MustCompile(`^知识星球`),
		regexp.MustCompile(`^第?\s*\d+\s*页$`),
	}
	blockStart      = regexp.MustCompile(`^(#+\s+|\d+(\.\d+)*\s+|[一二三四五六七八九十]+、|[（(]?\d+[）)]\s+|[•\-*]\s+)`)
	headingStart    = regexp.MustCompile(`^(#{1,6}\s+|\d+(\.\d+)*\s+\S|[一二三四五六七八九十]+、)`)
	tableSeparator  = regexp.MustCompile(`^[\s\-|:]+$`)
	tocEntry        = regexp.MustCompile(`^(•|\d+(\.\d+)*\s+)\S`)
	tocPageRef      = regexp.MustCompile(`(\.{2,}|·{2,}|\s)\s*\d{1,4}$`)
	hyphenBreak     = regexp.MustCompile(`([A-Za-z])-[ \t]+([a-z])`)
	spacedLetters   = regexp.MustCompile(`\b(?:[A-Za-z] ){4,}[A-Za-z]\b`)
	promoFragments  = regexp.MustCompile(`(扫码加查看更多|扫码查看更多|扫码查看|扫码加|知识星球)`)
	bulletParagraph = regexp.MustCompile(`\n([•\-*][ \t]+)`)
)

// CleanText runs CleanPages over text whose pages are separated by form feeds.
func CleanText(text string) string {
	return CleanPages(strings.Split(text, "\f"))
}

// CleanPages turns per-page extracted text (typically from a PDF) into clean
// paragraphs: running headers and footers, noise lines and table-of-contents
// blocks are dropped, wrapped lines are merged and table rows kept together.
// The result is a fixed point of Normalize.
func CleanPages(pages []string) string {
	if len(pages) == 0 {
		return ""
	}

	pageLines := make([][]string, len(pages))
	for i, page := range pages {
		pageLines[i] = Lines(norm.NFKC.String(page))
	}
	repeated := repeatedLines(pageLines)

	merged := make([]string, 0, len(pageLines))
	for _, lines := range pageLines {
		kept := make([]string, 0, len(lines))
		for _, line := range lines {
			if isNoiseLine(line, repeated) {
				continue
			}
			kept = append(kept, line)
		}
		kept = stripTOCBlocks(kept)
		if page := mergeBrokenLines(kept); page != "" {
			merged = append(merged, page)
		}
	}

	content := strings.Join(merged, "\n\n")
	content = fixWordBreaks(content)
	content = promoFragments.ReplaceAllString(content, "")
	content = bulletParagraph.ReplaceAllString(content, "\n\n$1")
	return Normalize(content)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// repeatedLines finds short lines present on at least max(2, 60%) of pages.
func repeatedLines(pageLines [][]string) map[string]struct{} {
	counts := make(map[string]int)
	for _, lines := range pageLines {
		seen := make(map[string]struct{})
		for _, line := range lines {
			normalized := collapseSpaces(line)
			if normalized == "" || utf8.RuneCountInString(normalized) > repeatedLineMaxLen {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			counts[normalized]++
		}
	}

	threshold := int(float64(len(pageLines)) * repeatedPageRatio)
	if threshold < 2 {
		threshold = 2
	}
	repeated := make(map[string]struct{})
	for line, count := range counts {
		if count >= threshold {
			repeated[line] = struct{}{}
		}
	}
	return repeated
}

func isNoiseLine(line string, repeated map[string]struct{}) bool {
	normalized := collapseSpaces(line)
	if normalized == "" {
		return false
	}
	if _, ok := repeated[normalized]; ok {
		return true
	}
	for _, pattern := range noiseLinePatterns {
		if pattern.MatchString(normalized) {
			return true
		}
	}
	return false
}

// stripTOCBlocks drops runs of consecutive non-blank lines that look like a
// table of contents.
func stripTOCBlocks(lines []string) []string {
	cleaned := make([]string, 0, len(lines))
	var buffer []string

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		hits := 0
		for _, item := range buffer {
			if isTOCEntry(strings.TrimSpace(item)) {
				hits++
			}
		}
		if len(buffer) < tocMinLines || float64(hits)/float64(len(buffer)) < tocHitRatio {
			cleaned = append(cleaned, buffer...)
		}
		buffer = nil
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush()
			cleaned = append(cleaned, line)
			continue
		}
		buffer = append(buffer, line)
	}
	flush()
	return cleaned
}

func isTOCEntry(line string) bool {
	if line == "" || strings.Contains(line, "|") || utf8.RuneCountInString(line) > tocLineMaxLen {
		return false
	}
	return tocEntry.MatchString(line) && tocPageRef.MatchString(line)
}

func isTableLine(line string) bool {
	return strings.Contains(line, "|") || tableSeparator.MatchString(line)
}

func isInlineNoise(line string) bool {
	if utf8.RuneCountInString(line) > 20 {
		return false
	}
	return strings.Contains(line, "扫码") || strings.Contains(line, "知识星球") || line == "查看更多"
}

func endsWithColon(line string) bool {
	return strings.HasSuffix(line, ":") || strings.HasSuffix(line, "：")
}

func isBlockStart(line string) bool {
	if blockStart.MatchString(line) {
		return true
	}
	return utf8.RuneCountInString(line) <= shortLineMaxLen && endsWithColon(line)
}

// isStandaloneHeading reports block starts that never absorb the next line.
func isStandaloneHeading(line string) bool {
	if utf8.RuneCountInString(line) > shortLineMaxLen {
		return false
	}
	return headingStart.MatchString(line) || endsWithColon(line)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// mergeBrokenLines joins lines that a page layout wrapped, keeps table rows
// together and separates blocks with a blank line.
func mergeBrokenLines(lines []string) string {
	var blocks []string
	var table []string
	buffer := ""

	flush := func() {
		if s := strings.TrimSpace(buffer); s != "" {
			blocks = append(blocks, s)
		}
		buffer = ""
	}
	flushTable := func() {
		if len(table) > 0 {
			blocks = append(blocks, strings.Join(table, "\n"))
			table = nil
		}
	}

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			flush()
			flushTable()
			continue
		}
		if isTableLine(stripped) {
			flush()
			table = append(table, stripped)
			continue
		}
		flushTable()
		if isInlineNoise(stripped) {
			flush()
			continue
		}
		if isBlockStart(stripped) {
			flush()
			if isStandaloneHeading(stripped) {
				blocks = append(blocks, stripped)
				continue
			}
			buffer = stripped
			continue
		}
		if buffer == "" {
			buffer = stripped
			continue
		}

		last, _ := utf8.DecodeLastRuneInString(buffer)
		first, _ := utf8.DecodeRuneInString(stripped)
		switch {
		case last == '-' && unicode.IsLower(first):
			buffer = buffer[:len(buffer)-1] + stripped
		case strings.ContainsRune("。！？!?；;", last):
			flush()
			buffer = stripped
		case IsCJK(last) && (IsCJK(first) || isAlnum(first)):
			buffer += stripped
		case isAlnum(last) && isAlnum(first):
			buffer += " " + stripped
		default:
			flush()
			buffer = stripped
		}
	}
	flush()
	flushTable()
	return strings.Join(blocks, "\n\n")
}

func fixWordBreaks(content string) string {
	content = strings.ReplaceAll(content, "\u00ad", "")
	for {
		next := hyphenBreak.ReplaceAllString(content, "$1$2")
		if next == content {
			break
		}
		content = next
	}
	return spacedLetters.ReplaceAllStringFunc(content, func(m string) string {
		return strings.ReplaceAll(m, " ", "")
	})
}
