package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pavelanni/lynki/internal/apperr"
)

var (
	openingFence   = regexp.MustCompile("(?m)^```(?:json|JSON)?\\s*")
	closingFence   = regexp.MustCompile("(?m)\\s*```\\s*$")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON recovers a JSON object from a model response that may be
// wrapped in markdown fences or prose. It slices from the first '{' to the
// last '}' and removes trailing commas before '}' or ']'. Braces are not
// balanced, so stray braces outside the object yield invalid JSON that fails
// later at decode time.
func ExtractJSON(raw string) (string, error) {
	text := openingFence.ReplaceAllString(raw, "")
	text = closingFence.ReplaceAllString(text, "")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", apperr.New(apperr.MalformedResponse, "no JSON object found in response")
	}

	return trailingCommas.ReplaceAllString(text[start:end+1], "$1"), nil
}

// DecodeJSON repairs raw and unmarshals it into v.
func DecodeJSON(raw string, v any) error {
	s, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return apperr.Wrap(apperr.MalformedResponse, err, "parse model JSON")
	}
	return nil
}
