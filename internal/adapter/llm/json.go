package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a reply contains no decodable JSON value.
var ErrNoJSON = errors.New("no JSON in model output")

var openingFence = regexp.MustCompile("^```[A-Za-z0-9_-]*")

// StripCodeFences removes a surrounding markdown code fence.
func StripCodeFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimSpace(openingFence.ReplaceAllString(cleaned, ""))
	if strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimSpace(cleaned[:strings.LastIndex(cleaned, "```")])
	}
	return cleaned
}

// ExtractJSON salvages a JSON value from chatty model output. It tries the
// fence-stripped text, then the outermost {...} span, then the outermost
// [...] span.
func ExtractJSON(text string) (json.RawMessage, error) {
	cleaned := StripCodeFences(text)
	if cleaned == "" {
		return nil, ErrNoJSON
	}
	candidates := []string{cleaned}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(cleaned, pair[0])
		end := strings.LastIndex(cleaned, pair[1])
		if start >= 0 && end > start {
			candidates = append(candidates, cleaned[start:end+1])
		}
	}
	for _, candidate := range candidates {
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoJSON
}

// IsArray reports whether raw holds a JSON array.
func IsArray(raw json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(raw)), "[")
}
