package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
)

var (
	fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	fencedBlock     = regexp.MustCompile("(?s)```\\s*(.*?)```")
)

// ExtractJSONObject pulls a JSON object out of raw LLM output. Models wrap
// their JSON in prose or markdown fences despite instructions, so candidates
// are tried in order of decreasing confidence: a ```json fence, any bare
// fence, then the substring from the first '{' to the last '}'. A candidate
// that does not parse gets one repair pass before the next strategy is tried.
func ExtractJSONObject(raw string) (string, error) {
	for _, candidate := range jsonCandidates(raw) {
		if obj, ok := asJSONObject(candidate); ok {
			return obj, nil
		}
	}
	return "", fmt.Errorf("no JSON object found in response: %s", responsePreview(raw, 120))
}

func jsonCandidates(raw string) []string {
	var out []string
	if m := fencedJSONBlock.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			out = append(out, raw[start:end+1])
		}
	}
	return out
}

// asJSONObject validates one candidate, repairing it when the strict parse
// fails. The result must be an object; arrays and bare values are rejected.
func asJSONObject(candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}
	if isJSONObject(candidate) {
		return candidate, true
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", false
	}
	repaired = strings.TrimSpace(repaired)
	if isJSONObject(repaired) {
		return repaired, true
	}
	return "", false
}

func isJSONObject(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	return json.Valid([]byte(trimmed))
}

func responsePreview(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
