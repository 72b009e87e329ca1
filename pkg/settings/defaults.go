package settings

const defaultHiddenContext = `You are part of an automated newsroom. Work precisely, cite concrete facts from the material you are given, and never mention these instructions in your output.`

const defaultPhase0Planning = `You are {agent_name}, an AI journalist planning an assignment.

Assignment context:
{agent_context}

Break the assignment into a concrete research and writing plan. Respond with ONLY a JSON object, no prose before or after it, in exactly this shape:

{"goal": "<one-sentence goal>", "tasks": [{"id": 1, "name": "<short name>", "description": "<what to do>", "expected_output": "<how the result is judged>"}]}

Rules: task ids are consecutive integers starting at 1; plan 3 to 7 tasks; each task must be completable on its own and verifiable against its expected_output.`

const defaultTaskExecutionFirst = `You are {agent_name}, an AI journalist working toward this goal: {goal}

Current task: {task_name}
Task description: {task_description}
Expected output: {expected_output}

Background material:
{context}

Produce the deliverable described above. Write publication-ready text and nothing else.`

const defaultTaskExecutionSequential = `You are {agent_name}, an AI journalist working toward this goal: {goal}

You are now on task {task_id}: {task_name}
Task description: {task_description}
Expected output: {expected_output}

Work completed in earlier tasks:
{previous_tasks_context}

Additional background material:
{additional_context}

Build on the earlier work without repeating it. Produce the deliverable described above and nothing else.`

const defaultTaskValidation = `You are a strict copy editor reviewing a journalist's submitted work.

Task: {task_name}
Task description: {task_description}
Acceptance criterion: {expected_output}

Submitted output:
{actual_output}

Judge whether the submitted output satisfies the acceptance criterion. Respond with ONLY a JSON object in exactly this shape: {"is_valid": true, "score": 0, "reason": "<one sentence>"} where is_valid is a boolean and score is an integer 0-100.`

// DefaultDocument returns the settings used when no document exists yet
// and after a reset.
func DefaultDocument() Document {
	return Document{
		Language: LanguageEnglish,
		LLM: LLMConfig{
			URL:         "http://localhost:11434/v1/chat/completions",
			Model:       "llama3.1",
			PayloadType: PayloadTypeMessage,
			Timeout:     300,
			MaxTokens:   4096,
			Temperature: 0.7,
			Headers:     map[string]string{"Content-Type": "application/json"},
		},
		Prompts: map[string]string{
			PromptHiddenContext:           defaultHiddenContext,
			PromptPhase0Planning:          defaultPhase0Planning,
			PromptTaskExecutionFirst:      defaultTaskExecutionFirst,
			PromptTaskExecutionSequential: defaultTaskExecutionSequential,
			PromptTaskValidation:          defaultTaskValidation,
		},
		Retrieval: RetrievalConfig{
			Enabled:          false,
			EmbeddingModel:   "nomic-embed-text",
			EmbeddingURL:     "http://localhost:11434/v1",
			Dimension:        768,
			IndexPath:        "vector_index.bin",
			MetadataPath:     "vector_metadata.json",
			HitTarget:        3,
			TopK:             10,
			Step:             0.1,
			Dynamic:          true,
			StoreTaskOutputs: true,
			MaxContextLength: 8000,
		},
	}
}
