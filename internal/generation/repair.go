package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRegex         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	smartQuoteReplacer = strings.NewReplacer("“", `"`, "”", `"`)
)

// ExtractJSON recovers a JSON document from model output. It tolerates
// markdown code fences, prose before or after the document, curly quotes
// and trailing commas. The result is guaranteed to be valid JSON.
func ExtractJSON(raw string) ([]byte, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}

	if m := fenceRegex.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	text = smartQuoteReplacer.Replace(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON document found", ErrInvalidResponse)
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return nil, fmt.Errorf("%w: unterminated JSON document", ErrInvalidResponse)
	}
	text = text[start : end+1]

	if !json.Valid([]byte(text)) {
		text = trailingCommaRegex.ReplaceAllString(text, "$1")
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("%w: malformed JSON document", ErrInvalidResponse)
	}

	return []byte(text), nil
}

// DecodeJSON extracts a JSON document from raw, runs each check on it and
// unmarshals it into v. Every failure wraps ErrInvalidResponse.
func DecodeJSON(raw string, v any, checks ...func(data []byte) error) error {
	data, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	for _, check := range checks {
		if err := check(data); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
