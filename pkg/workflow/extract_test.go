package workflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any // nil expects an error
	}{
		{
			name: "fenced json block",
			raw:  "Here is the plan:\n```json\n{\"goal\": \"cover the vote\", \"tasks\": []}\n```\nLet me know.",
			want: map[string]any{"goal": "cover the vote", "tasks": []any{}},
		},
		{
			name: "bare fenced block",
			raw:  "```\n{\"a\": 1}\n```",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "object embedded in prose",
			raw:  `The verdict: {"is_valid": true, "score": 88, "reason": "solid"} hope that helps.`,
			want: map[string]any{"is_valid": true, "score": float64(88), "reason": "solid"},
		},
		{
			name: "trailing comma repaired",
			raw:  `{"is_valid": true,}`,
			want: map[string]any{"is_valid": true},
		},
		{
			name: "unquoted keys repaired",
			raw:  `{goal: "x", tasks: []}`,
			want: map[string]any{"goal": "x", "tasks": []any{}},
		},
		{
			name: "no json at all",
			raw:  "I could not produce a plan this time.",
		},
		{
			name: "array is not an object",
			raw:  `[1, 2, 3]`,
		},
		{
			name: "bare null",
			raw:  "null",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tc.raw)
			if tc.want == nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no JSON object found")
				return
			}
			require.NoError(t, err)
			var parsed map[string]any
			require.NoError(t, json.Unmarshal([]byte(got), &parsed))
			assert.Equal(t, tc.want, parsed)
		})
	}
}

func TestExtractJSONObjectTruncatesPreview(t *testing.T) {
	_, err := ExtractJSONObject(strings.Repeat("x", 500))
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 200)
	assert.Contains(t, err.Error(), "...")
}

func TestParseValidationDefaults(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string // expected reason fragment
	}{
		{name: "no object", text: "looks fine to me", want: "no JSON object found"},
		{name: "missing keys", text: `{"something": "else"}`, want: "Validation format error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := parseValidation(tc.text)
			assert.False(t, v.IsValid)
			assert.Equal(t, 0, v.Score)
			assert.Contains(t, v.Reason, tc.want)
		})
	}
}

func TestParseValidationClampsScore(t *testing.T) {
	v := parseValidation(`{"is_valid": true, "score": 140, "reason": "enthusiastic"}`)
	assert.True(t, v.IsValid)
	assert.Equal(t, 100, v.Score)

	v = parseValidation(`{"is_valid": false, "score": -5, "reason": "harsh"}`)
	assert.False(t, v.IsValid)
	assert.Equal(t, 0, v.Score)
}

func TestParsePlanRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "missing goal", raw: `{"goal": " ", "tasks": [{"id": 1, "name": "a"}]}`, want: "missing a goal"},
		{name: "empty tasks", raw: `{"goal": "g", "tasks": []}`, want: "no tasks"},
		{name: "duplicate ids", raw: `{"goal": "g", "tasks": [{"id": 1, "name": "a"}, {"id": 1, "name": "b"}]}`, want: "repeats task id 1"},
		{name: "unnamed task", raw: `{"goal": "g", "tasks": [{"id": 2, "name": ""}]}`, want: "task 2 has no name"},
		{name: "not a plan", raw: "there is no plan here", want: "no JSON object found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tasklist, perr := parsePlan(tc.raw)
			require.Nil(t, tasklist)
			require.NotNil(t, perr)
			assert.Contains(t, perr.Error(), tc.want)
		})
	}
}

func TestParsePlanAcceptsNumericIDs(t *testing.T) {
	tasklist, perr := parsePlan(`{"goal": "publish", "tasks": [
		{"id": 2.0, "name": "edit", "description": "tighten the copy"},
		{"id": 1, "name": "draft", "expected_output": "500 words"}
	]}`)
	require.Nil(t, perr)
	require.NotNil(t, tasklist)
	assert.Equal(t, "publish", tasklist.Goal)
	require.Len(t, tasklist.Tasks, 2)
	assert.Equal(t, 2, tasklist.Tasks[0].ID)
	assert.Equal(t, "tighten the copy", tasklist.Tasks[0].Description)
	assert.Equal(t, 1, tasklist.Tasks[1].ID)
	assert.Equal(t, "500 words", tasklist.Tasks[1].ExpectedOutput)
}
