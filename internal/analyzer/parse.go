package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// stripFences unwraps a response wrapped in markdown code fences, with or
// without a json language tag. Text without fences is returned trimmed.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Unterminated fence, as produced by truncated responses.
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		return strings.TrimSpace(rest)
	}
	return s
}

// description is the JSON payload requested from remote providers. Text
// prompts answer with summary instead of caption.
type description struct {
	Caption string   `json:"caption"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// parseDescription decodes a provider response into caption and tags.
func parseDescription(raw string) (string, []string, error) {
	body := stripFences(raw)
	if body == "" {
		return "", nil, errors.New("empty response")
	}
	var d description
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return "", nil, fmt.Errorf("decoding response json: %w", err)
	}
	caption := strings.TrimSpace(d.Caption)
	if caption == "" {
		caption = strings.TrimSpace(d.Summary)
	}
	if caption == "" && len(d.Tags) == 0 {
		return "", nil, errors.New("response has neither caption nor tags")
	}

	tags := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return caption, tags, nil
}
