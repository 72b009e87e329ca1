package api

// createAgentRequest is the body of POST /api/agents. Temperature defaults
// to the configured LLM temperature when omitted.
type createAgentRequest struct {
	Name        string   `json:"name"`
	Context     string   `json:"context"`
	Temperature *float64 `json:"temperature"`
	Auto        bool     `json:"auto"`
	Halt        bool     `json:"halt"`
}

// updateAgentRequest is the body of PATCH /api/agents/:id. Nil fields keep
// their current value.
type updateAgentRequest struct {
	Name        *string  `json:"name"`
	Context     *string  `json:"context"`
	Temperature *float64 `json:"temperature"`
	Auto        *bool    `json:"auto"`
	Halt        *bool    `json:"halt"`
}

// updatePromptsRequest is the body of PUT /api/settings/prompts.
type updatePromptsRequest struct {
	Prompts map[string]string `json:"prompts"`
}

// updatePromptRequest is the body of PUT /api/settings/prompts/:name.
type updatePromptRequest struct {
	Prompt string `json:"prompt"`
}

// retrievalQueryRequest is the body of POST /api/retrieval/query. HitTarget
// and TopK override the configured values when positive.
type retrievalQueryRequest struct {
	Query        string `json:"query"`
	AgentContext string `json:"agent_context"`
	HitTarget    int    `json:"hit_target"`
	TopK         int    `json:"top_k"`
}
