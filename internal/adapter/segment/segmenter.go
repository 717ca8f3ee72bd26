// Package segment splits normalized text into titled blocks.
package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"coursekb/internal/domain"
)

const (
	DefaultDocName = "文档"
	qaSection      = "问答"
	untitled       = "未命名"

	qaMinQuestions   = 3
	qaQuestionRatio  = 0.05
	questionTitleMax = 40
	maxListItems     = 6
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// QAPolicy decides whether question/answer segmentation may be used for a
// course and document type.
type QAPolicy interface {
	Allows(courseID, docType string) bool
}

// Result is the output of Segment.
type Result struct {
	Blocks []domain.Block
	QAMode bool
}

type Segmenter struct {
	qa QAPolicy
}

// New creates a segmenter. A nil policy disables QA mode.
func New(qa QAPolicy) *Segmenter {
	return &Segmenter{qa: qa}
}

// Segment splits text into blocks. It never fails: non-empty text always
// yields at least one block.
func (s *Segmenter) Segment(text, docName, courseID, docType string) Result {
	docName = strings.TrimSpace(docName)
	if docName == "" {
		docName = DefaultDocName
	}
	lines := strings.Split(text, "\n")

	qaMode := s.DetectQA(lines, courseID, docType)
	var blocks []domain.Block
	if qaMode {
		blocks = segmentQA(lines, docName)
	} else {
		blocks = segmentSections(lines, docName)
	}
	blocks = Dedupe(blocks)

	if len(blocks) == 0 {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			blocks = []domain.Block{{Text: trimmed, TitlePath: docName}}
		}
	}
	return Result{Blocks: blocks, QAMode: qaMode}
}

// DetectQA reports whether lines look like a question/answer document.
func (s *Segmenter) DetectQA(lines []string, courseID, docType string) bool {
	if s == nil || s.qa == nil || !s.qa.Allows(courseID, docType) {
		return false
	}
	questions := 0
	for _, line := range lines {
		if IsQuestion(line) {
			questions++
		}
	}
	if questions < qaMinQuestions {
		return false
	}
	threshold := int(float64(len(lines)) * qaQuestionRatio)
	if threshold < 2 {
		threshold = 2
	}
	return questions >= threshold
}

// TitlePath joins the document name and a heading stack with " > ".
func TitlePath(docName string, stack []string) string {
	docName = strings.TrimSpace(docName)
	if docName == "" {
		docName = DefaultDocName
	}
	if len(stack) == 0 {
		return docName
	}
	return docName + " > " + strings.Join(stack, " > ")
}

// SanitizeTitle collapses whitespace and caps the title at 40 characters.
func SanitizeTitle(value string) string {
	cleaned := whitespaceRun.ReplaceAllString(strings.TrimSpace(value), " ")
	if utf8.RuneCountInString(cleaned) > questionTitleMax {
		runes := []rune(cleaned)
		return strings.TrimRight(string(runes[:questionTitleMax]), " ") + "..."
	}
	if cleaned == "" {
		return untitled
	}
	return cleaned
}

func segmentSections(lines []string, docName string) []domain.Block {
	var (
		blocks []domain.Block
		buffer []string
		stack  []string
	)

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if text := strings.TrimSpace(strings.Join(buffer, "\n")); text != "" {
			blocks = append(blocks, domain.Block{Text: text, TitlePath: TitlePath(docName, stack)})
		}
		buffer = buffer[:0]
	}

	for _, raw := range lines {
		line := Classify(raw)
		switch line.Kind {
		case Blank:
			flush()
		case Heading:
			flush()
			for len(stack) >= line.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, line.Title)
			buffer = append(buffer, line.Text)
		default:
			buffer = append(buffer, line.Text)
		}
	}
	flush()
	return blocks
}

func segmentQA(lines []string, docName string) []domain.Block {
	var (
		blocks   []domain.Block
		preamble []string
		answer   []string
		question string
	)

	flushQA := func() {
		if question == "" {
			return
		}
		title := TitlePath(docName, []string{qaSection, SanitizeTitle(question)})
		if text := strings.TrimSpace(strings.Join(answer, "\n")); text != "" {
			for _, part := range splitListBlocks(text, maxListItems) {
				blocks = append(blocks, domain.Block{Text: part, TitlePath: title})
			}
		}
		question = ""
		answer = nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			if question != "" {
				answer = append(answer, "")
			}
			continue
		}
		if IsQuestion(line) {
			flushQA()
			question = line
			continue
		}
		if question != "" {
			answer = append(answer, line)
		} else {
			preamble = append(preamble, line)
		}
	}
	flushQA()

	// text before the first question follows the QA units
	if text := strings.TrimSpace(strings.Join(preamble, "\n")); text != "" {
		blocks = append(blocks, domain.Block{Text: text, TitlePath: TitlePath(docName, nil)})
	}
	return blocks
}

// splitListBlocks breaks an answer with many list items into groups of at
// most maxItems items. Answers with fewer than maxItems+2 items are kept whole.
func splitListBlocks(text string, maxItems int) []string {
	var lines []string
	listCount := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if IsListItem(line) {
			listCount++
		}
	}
	if len(lines) == 0 {
		return nil
	}
	if listCount < maxItems+2 {
		return []string{strings.TrimSpace(text)}
	}

	var (
		parts  []string
		buffer []string
		count  int
	)
	for _, line := range lines {
		buffer = append(buffer, line)
		if IsListItem(line) {
			count++
			if count >= maxItems {
				parts = append(parts, strings.TrimSpace(strings.Join(buffer, "\n")))
				buffer = nil
				count = 0
			}
		}
	}
	if len(buffer) > 0 {
		if part := strings.TrimSpace(strings.Join(buffer, "\n")); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
