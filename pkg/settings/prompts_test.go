package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePromptRequiredVariables(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		template string
		wantErr  error
	}{
		{
			name:     "planning template with all variables",
			prompt:   PromptPhase0Planning,
			template: "You are {agent_name}. Context: {agent_context}.",
			wantErr:  nil,
		},
		{
			name:     "planning template missing context",
			prompt:   PromptPhase0Planning,
			template: "You are {agent_name}.",
			wantErr:  ErrMissingVariable,
		},
		{
			name:     "validation template complete",
			prompt:   PromptTaskValidation,
			template: "Task {task_name}: {task_description}. Expected {expected_output}, got {actual_output}.",
			wantErr:  nil,
		},
		{
			name:     "validation template missing actual output",
			prompt:   PromptTaskValidation,
			template: "Task {task_name}: {task_description}. Expected {expected_output}.",
			wantErr:  ErrMissingVariable,
		},
		{
			name:     "hidden context has no required variables",
			prompt:   PromptHiddenContext,
			template: "Plain background text.",
			wantErr:  nil,
		},
		{
			name:     "unknown prompt name",
			prompt:   "phase_9_magic",
			template: "whatever",
			wantErr:  ErrUnknownPrompt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePrompt(tt.prompt, tt.template)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDefaultTemplatesSatisfyTheirVariableSets(t *testing.T) {
	doc := DefaultDocument()
	for _, name := range PromptNames() {
		assert.NoError(t, validatePrompt(name, doc.Prompts[name]), "default template %s", name)
	}
}

func TestUpdatePromptRejectsMissingVariable(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdatePrompt(PromptTaskExecutionFirst, "Just do {task_name}.")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingVariable)

	// The stored template is unchanged.
	text, err := s.GetPrompt(PromptTaskExecutionFirst)
	require.NoError(t, err)
	assert.Contains(t, text, "{expected_output}")
}

func TestUpdatePromptsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	original, err := s.GetPrompt(PromptHiddenContext)
	require.NoError(t, err)

	err = s.UpdatePrompts(map[string]string{
		PromptHiddenContext:  "new background",
		PromptPhase0Planning: "missing everything",
	})
	require.Error(t, err)

	// The valid entry of a rejected batch is not applied.
	text, err := s.GetPrompt(PromptHiddenContext)
	require.NoError(t, err)
	assert.Equal(t, original, text)
}

func TestFormatPrompt(t *testing.T) {
	out := FormatPrompt("Agent {agent_name} works on {task_name}.", map[string]string{
		"agent_name": "newsroom-bot",
		"task_name":  "background research",
	})
	assert.Equal(t, "Agent newsroom-bot works on background research.", out)
}

func TestFormatPromptLeavesUnknownTokens(t *testing.T) {
	// Literal JSON braces in templates must survive formatting.
	out := FormatPrompt(`Respond with {"goal": "...", "tasks": []} for {agent_name}.`, map[string]string{
		"agent_name": "newsroom-bot",
	})
	assert.Contains(t, out, `{"goal": "...", "tasks": []}`)
	assert.Contains(t, out, "newsroom-bot")
}

func TestPromptNamesStable(t *testing.T) {
	names := PromptNames()
	require.Len(t, names, 5)
	assert.Equal(t, names, PromptNames())
	for _, name := range names {
		_, ok := requiredPromptVars[name]
		assert.True(t, ok, "prompt %s has a variable set", name)
	}
}
