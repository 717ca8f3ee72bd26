// Package analyzer turns course text into index terms.
package analyzer

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-ego/gse"

	"coursekb/internal/adapter/normalize"
)

// WordSegmenter splits a run of CJK ideographs into words.
type WordSegmenter interface {
	Cut(text string) []string
}

type dictSegmenter struct {
	seg gse.Segmenter
}

func (d *dictSegmenter) Cut(text string) []string {
	return d.seg.Cut(text, true)
}

var (
	dictOnce sync.Once
	dictSeg  WordSegmenter
)

// DictionarySegmenter returns the shared dictionary segmenter, loading the
// embedded Chinese dictionary on first use. It returns nil when the
// dictionary cannot be loaded.
func DictionarySegmenter() WordSegmenter {
	dictOnce.Do(func() {
		d := &dictSegmenter{}
		if err := d.seg.LoadDictEmbed(); err != nil {
			return
		}
		dictSeg = d
	})
	return dictSeg
}

// Tokenizer splits mixed Chinese and English text into lexical terms.
// ASCII alphanumeric runs become lower-cased words; runs of CJK ideographs
// are cut into dictionary words. Without a dictionary they become
// overlapping bigrams.
type Tokenizer struct {
	stopwords map[string]struct{}
	words     WordSegmenter
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopwords: defaultStopwords(), words: DictionarySegmenter()}
}

// Tokenize splits text into terms. Order and duplicates are preserved.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, segment := range strings.Fields(text) {
		tokens = t.appendSegment(tokens, segment)
	}
	return tokens
}

func (t *Tokenizer) appendSegment(tokens []string, segment string) []string {
	var ascii strings.Builder
	var cjk []rune

	flushASCII := func() {
		if ascii.Len() > 0 {
			tokens = append(tokens, strings.ToLower(ascii.String()))
			ascii.Reset()
		}
	}
	flushCJK := func() {
		switch {
		case len(cjk) == 0:
		case len(cjk) == 1:
			tokens = append(tokens, string(cjk))
		case t.words != nil:
			for _, w := range t.words.Cut(string(cjk)) {
				if w = strings.TrimSpace(w); w != "" {
					tokens = append(tokens, w)
				}
			}
		default:
			for i := 0; i+1 < len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range segment {
		switch {
		case isASCIIAlnum(r):
			flushCJK()
			ascii.WriteRune(r)
		case normalize.IsCJK(r):
			flushASCII()
			cjk = append(cjk, r)
		default:
			flushASCII()
			flushCJK()
		}
	}
	flushASCII()
	flushCJK()
	return tokens
}

func isASCIIAlnum(r rune) bool {
	return r < utf8.RuneSelf && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

var numeric = regexp.MustCompile(`^\d+(\.\d+)?$`)

// IsKeyword reports whether a token is worth surfacing as a knowledge point:
// not numeric, not a stopword, ASCII tokens of 3+ characters and other tokens
// of 2+ characters.
func (t *Tokenizer) IsKeyword(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" || numeric.MatchString(token) {
		return false
	}
	if _, stop := t.stopwords[strings.ToLower(token)]; stop {
		return false
	}
	n := utf8.RuneCountInString(token)
	if isASCII(token) {
		return n >= 3
	}
	return n >= 2
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// defaultStopwords returns common English and Chinese function words.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"the", "and", "or", "for", "with", "that", "this", "from",
		"into", "about", "also", "can", "will", "have", "has", "are",
		"was", "were", "is", "be", "to", "of", "in", "on", "a", "an",
		"是", "的", "了", "和", "与", "及", "或", "以及", "一个", "一些",
		"这些", "那些", "我们", "你们", "他们", "可以", "需要", "进行",
		"包括", "主要", "相关", "用于",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
