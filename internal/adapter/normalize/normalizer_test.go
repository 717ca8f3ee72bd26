package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	raw := "  a\r\nb\t\t c \n\n\n\nd\u00a0e\u200b "
	got := Normalize(raw)

	assert.Equal(t, "a\nb c\n\nd e", got)
	assert.Equal(t, got, Normalize(got))
}

func TestNormalizeFullWidth(t *testing.T) {
	assert.Equal(t, "ABC123", Normalize("ＡＢＣ１２３"))
}

func TestNormalizeStripsControlCharacters(t *testing.T) {
	assert.Equal(t, "ab", Normalize("a\x00\x07b\x7f"))
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"第一章\r\n\r\n\r\n  概述  \t 内容",
		"line one\x0b\nline two\n\n\n\n\nline three",
		"ｆｕｌｌ　ｗｉｄｔｈ  text",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestCleanPagesDropsRepeatedLines(t *testing.T) {
	pages := []string{
		"Course Notes\nDeep learning is a subset of machine learning.\n第 1 页",
		"Course Notes\nNeural networks learn representations.\n第 2 页",
		"Course Notes\nGradient descent optimizes the loss.\n第 3 页",
	}

	got := CleanPages(pages)

	assert.Equal(t, "Deep learning is a subset of machine learning.\n\n"+
		"Neural networks learn representations.\n\n"+
		"Gradient descent optimizes the loss.", got)
	assert.Equal(t, got, Normalize(got))
}

func TestCleanTextMergesBrokenLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"dehyphenate", "We learn-\ning today.", "We learning today."},
		{"cjk", "深度学习是机器学习的\n一个分支。", "深度学习是机器学习的一个分支。"},
		{"ascii words", "Gradient descent\nconverges slowly.", "Gradient descent converges slowly."},
		{"terminator flushes", "First sentence.\nSecond one", "First sentence.\n\nSecond one"},
		{"spaced letters", "m a c h i n e learning", "machine learning"},
		{"heading stands alone", "1.2 Overview\nThis section explains things.", "1.2 Overview\n\nThis section explains things."},
		{"colon heading", "Key points:\nthe loss decreases", "Key points:\n\nthe loss decreases"},
		{"bullets", "Intro line.\n• first\n• second", "Intro line.\n\n• first\n\n• second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}

func TestCleanTextKeepsTables(t *testing.T) {
	table := "| a | b |\n|---|---|\n| 1 | 2 |"
	got := CleanText("Results\n\n" + table)

	assert.Equal(t, "Results\n\n"+table, got)
}

func TestCleanTextDropsTableOfContents(t *testing.T) {
	toc := strings.Join([]string{
		"1 Introduction 1",
		"1.1 Background 3",
		"1.2 Scope 5",
		"2 Methods 8",
		"2.1 Data 10",
	}, "\n")

	got := CleanText(toc + "\n\nBody text here.")

	assert.Equal(t, "Body text here.", got)
}

func TestCleanTextDropsPromotions(t *testing.T) {
	got := CleanText("Useful content.\n扫码加查看更多\n知识星球")
	assert.Equal(t, "Useful content.", got)
}

func TestCleanPagesEmpty(t *testing.T) {
	assert.Equal(t, "", CleanPages(nil))
	assert.Equal(t, "", CleanPages([]string{"", "  "}))
}

func TestContainsCJK(t *testing.T) {
	assert.True(t, ContainsCJK("abc学习"))
	assert.False(t, ContainsCJK("abc"))
	assert.Equal(t, 4, RuneLen("深度学习"))
}
