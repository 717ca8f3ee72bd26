package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Kind tags a classified line.
type Kind int

const (
	Plain Kind = iota
	Blank
	Heading
	QALine
	ListItem
)

func (k Kind) String() string {
	switch k {
	case Blank:
		return "blank"
	case Heading:
		return "heading"
	case QALine:
		return "question"
	case ListItem:
		return "list"
	default:
		return "plain"
	}
}

// Line is one classified source line. Level and Title are set for headings.
type Line struct {
	Kind  Kind
	Text  string
	Level int
	Title string
}

const colonHeadingMaxLen = 40

type headingMatcher func(line string) (level int, title string, ok bool)

var (
	markdownHeading = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	numericHeading  = regexp.MustCompile(`^(\d+(?:\.\d+)*)\s+(.+)$`)
	chineseHeading  = regexp.MustCompile(`^([一二三四五六七八九十]+)、\s*(.+)$`)
	parenHeading    = regexp.MustCompile(`^[（(]?\d+[）)]\s+(.+)$`)
	listItem        = regexp.MustCompile(`^(\d+[.、]|[-•*])\s+`)
)

// headingMatchers run in priority order; the first match wins.
var headingMatchers = []headingMatcher{
	func(line string) (int, string, bool) {
		m := markdownHeading.FindStringSubmatch(line)
		if m == nil {
			return 0, "", false
		}
		return len(m[1]), strings.TrimSpace(m[2]), true
	},
	func(line string) (int, string, bool) {
		m := numericHeading.FindStringSubmatch(line)
		if m == nil {
			return 0, "", false
		}
		return strings.Count(m[1], ".") + 1, strings.TrimSpace(m[2]), true
	},
	func(line string) (int, string, bool) {
		m := chineseHeading.FindStringSubmatch(line)
		if m == nil {
			return 0, "", false
		}
		return 1, strings.TrimSpace(m[2]), true
	},
	func(line string) (int, string, bool) {
		m := parenHeading.FindStringSubmatch(line)
		if m == nil {
			return 0, "", false
		}
		return 2, strings.TrimSpace(m[1]), true
	},
	func(line string) (int, string, bool) {
		if utf8.RuneCountInString(line) > colonHeadingMaxLen {
			return 0, "", false
		}
		if !strings.HasSuffix(line, ":") && !strings.HasSuffix(line, "：") {
			return 0, "", false
		}
		title := strings.TrimSpace(strings.TrimRight(line, ":："))
		if title == "" {
			return 0, "", false
		}
		return 3, title, true
	},
}

// Classify tags a single line. Headings take priority over questions and
// list items.
func Classify(raw string) Line {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Line{Kind: Blank}
	}
	for _, match := range headingMatchers {
		if level, title, ok := match(line); ok {
			return Line{Kind: Heading, Text: line, Level: level, Title: title}
		}
	}
	if IsQuestion(line) {
		return Line{Kind: QALine, Text: line}
	}
	if listItem.MatchString(line) {
		return Line{Kind: ListItem, Text: line}
	}
	return Line{Kind: Plain, Text: line}
}

// IsQuestion reports whether a trimmed line ends with a question mark.
func IsQuestion(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasSuffix(line, "?") || strings.HasSuffix(line, "？")
}

// IsListItem reports whether a trimmed line starts with a list marker.
func IsListItem(line string) bool {
	return listItem.MatchString(strings.TrimSpace(line))
}
