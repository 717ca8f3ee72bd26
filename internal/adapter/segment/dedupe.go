package segment

import (
	"strings"
	"unicode/utf8"

	"coursekb/internal/adapter/normalize"
	"coursekb/internal/domain"
)

const duplicateJaccard = 0.9

// Dedupe drops near-duplicate neighbours, keeping the longer of each pair.
// Blocks are equal when their whitespace-collapsed text matches, when one
// contains the other, or when their token sets overlap by at least 90%.
func Dedupe(blocks []domain.Block) []domain.Block {
	if len(blocks) == 0 {
		return nil
	}
	out := []domain.Block{blocks[0]}
	for _, current := range blocks[1:] {
		prev := out[len(out)-1]
		prevText := collapse(prev.Text)
		currText := collapse(current.Text)
		if prevText == "" || currText == "" {
			out = append(out, current)
			continue
		}
		if strings.Contains(prevText, currText) || strings.Contains(currText, prevText) ||
			jaccard(tokenSet(prevText), tokenSet(currText)) >= duplicateJaccard {
			if utf8.RuneCountInString(currText) > utf8.RuneCountInString(prevText) {
				out[len(out)-1] = current
			}
			continue
		}
		out = append(out, current)
	}
	return out
}

func collapse(s string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// tokenSet collects ASCII alphanumeric runs and single CJK ideographs.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			set[run.String()] = struct{}{}
			run.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r < utf8.RuneSelf && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			run.WriteRune(r)
		case normalize.IsCJK(r):
			flush()
			set[string(r)] = struct{}{}
		default:
			flush()
		}
	}
	flush()
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
