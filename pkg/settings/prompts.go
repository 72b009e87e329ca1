package settings

import (
	"fmt"
	"strings"
)

// Prompt template names. Every template the workflow uses is one of these.
const (
	PromptHiddenContext           = "hidden_context"
	PromptPhase0Planning          = "phase_0_planning"
	PromptTaskExecutionFirst      = "task_execution_first"
	PromptTaskExecutionSequential = "task_execution_sequential"
	PromptTaskValidation          = "task_validation"
)

// requiredPromptVars lists the {variable} tokens each template must carry.
// An update that drops a required token is rejected: the workflow formats
// these templates blindly and a missing slot silently loses its content.
var requiredPromptVars = map[string][]string{
	PromptHiddenContext:  {},
	PromptPhase0Planning: {"agent_name", "agent_context"},
	PromptTaskExecutionFirst: {
		"agent_name", "goal", "task_name", "task_description",
		"expected_output", "context",
	},
	PromptTaskExecutionSequential: {
		"agent_name", "goal", "task_id", "task_name", "task_description",
		"expected_output", "previous_tasks_context", "additional_context",
	},
	PromptTaskValidation: {
		"task_name", "task_description", "expected_output", "actual_output",
	},
}

// PromptNames returns the known template names in a stable order.
func PromptNames() []string {
	return []string{
		PromptHiddenContext,
		PromptPhase0Planning,
		PromptTaskExecutionFirst,
		PromptTaskExecutionSequential,
		PromptTaskValidation,
	}
}

// validatePrompt checks that name is known and text carries every required
// {variable} token.
func validatePrompt(name, text string) error {
	vars, ok := requiredPromptVars[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPrompt, name)
	}
	for _, v := range vars {
		if !strings.Contains(text, "{"+v+"}") {
			return &ValidationError{
				Field: "prompts." + name,
				Err:   fmt.Errorf("%w: {%s}", ErrMissingVariable, v),
			}
		}
	}
	return nil
}

// FormatPrompt renders a template with the given variables. Tokens without
// a binding are left in place; templates may contain literal braces (JSON
// examples) that must survive formatting untouched.
func FormatPrompt(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
