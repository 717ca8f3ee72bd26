package analyzer

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenizer_ASCII(t *testing.T) {
	tok := NewTokenizer()

	tokens := tok.Tokenize("Gradient-Descent converges, fast!")
	expected := []string{"gradient", "descent", "converges", "fast"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_CJKBigramsWithoutDictionary(t *testing.T) {
	tok := &Tokenizer{stopwords: defaultStopwords()}

	tokens := tok.Tokenize("深度学习")
	expected := []string{"深度", "度学", "学习"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_CJKDictionaryWords(t *testing.T) {
	if DictionarySegmenter() == nil {
		t.Fatal("embedded dictionary failed to load")
	}
	tok := NewTokenizer()

	for _, text := range []string{"机器学习是人工智能的分支", "梯度下降用于优化损失函数"} {
		tokens := tok.Tokenize(text)
		if joined := strings.Join(tokens, ""); joined != text {
			t.Errorf("words of %q should cover it without overlap, got %v", text, tokens)
		}
		for _, fragment := range []string{"器学", "习是", "度下", "于优"} {
			for _, tk := range tokens {
				if tk == fragment {
					t.Errorf("unexpected cross-word fragment %q in %v", fragment, tokens)
				}
			}
		}
	}
}

type fixedWords map[string][]string

func (f fixedWords) Cut(text string) []string { return f[text] }

func TestTokenizer_UsesWordSegmenter(t *testing.T) {
	tok := &Tokenizer{stopwords: defaultStopwords(), words: fixedWords{"机器学习导论": {"机器学习", " ", "导论"}}}

	tokens := tok.Tokenize("机器学习导论 ML")
	expected := []string{"机器学习", "导论", "ml"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_Mixed(t *testing.T) {
	tok := NewTokenizer()

	tokens := tok.Tokenize("使用PyTorch训练CNN模型，学。")
	expected := []string{"使用", "pytorch", "训练", "cnn", "模型", "学"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Errorf("expected %v, got %v", expected, tokens)
	}
}

func TestTokenizer_Empty(t *testing.T) {
	tok := NewTokenizer()

	if tokens := tok.Tokenize("   \n\t "); len(tokens) != 0 {
		t.Errorf("expected no tokens, got %v", tokens)
	}
	if tokens := tok.Tokenize("—— …"); len(tokens) != 0 {
		t.Errorf("expected punctuation to be dropped, got %v", tokens)
	}
}

func TestTokenizer_IsKeyword(t *testing.T) {
	tok := NewTokenizer()

	tests := []struct {
		token    string
		expected bool
	}{
		{"gradient", true},
		{"the", false},
		{"ml", false},
		{"42", false},
		{"3.14", false},
		{"学习", true},
		{"学", false},
		{"我们", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := tok.IsKeyword(tt.token); got != tt.expected {
			t.Errorf("IsKeyword(%q) = %v, want %v", tt.token, got, tt.expected)
		}
	}
}
