package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

var errNoArray = errors.New("no JSON array found in response")

// rawSpan is one element of a vision response, with its box in the
// coordinates of the image the model saw.
type rawSpan struct {
	Text string
	BBox [4]float64
}

// firstJSONArray returns the first well-formed JSON array in raw, after
// stripping a markdown code block if present. Models often wrap the array in
// prose or fences.
func firstJSONArray(raw string) ([]json.RawMessage, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] != '[' {
			continue
		}
		var arr []json.RawMessage
		if err := json.NewDecoder(strings.NewReader(raw[i:])).Decode(&arr); err == nil {
			return arr, nil
		}
	}
	return nil, errNoArray
}

// parseSpans decodes a vision response. Every element must be an object with
// a non-empty string "text" and a "bbox" of exactly four non-negative numbers.
func parseSpans(raw string) ([]rawSpan, error) {
	arr, err := firstJSONArray(raw)
	if err != nil {
		return nil, err
	}
	out := make([]rawSpan, 0, len(arr))
	for i, el := range arr {
		s, err := parseElement(el)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseElement(el json.RawMessage) (rawSpan, error) {
	var obj map[string]any
	if err := json.Unmarshal(el, &obj); err != nil || obj == nil {
		return rawSpan{}, fmt.Errorf("not an object")
	}

	text, ok := obj["text"].(string)
	if !ok {
		return rawSpan{}, fmt.Errorf("text is not a string")
	}
	if strings.TrimSpace(text) == "" {
		return rawSpan{}, fmt.Errorf("text is empty")
	}

	box, ok := obj["bbox"].([]any)
	if !ok {
		return rawSpan{}, fmt.Errorf("bbox is not an array")
	}
	if len(box) != 4 {
		return rawSpan{}, fmt.Errorf("bbox has %d values, want 4", len(box))
	}
	s := rawSpan{Text: text}
	for j, v := range box {
		n, ok := v.(float64)
		if !ok {
			return rawSpan{}, fmt.Errorf("bbox[%d] is not a number", j)
		}
		if n < 0 {
			return rawSpan{}, fmt.Errorf("bbox[%d] is negative", j)
		}
		s.BBox[j] = n
	}
	return s, nil
}
