package api

import (
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/models"
)

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Agents   int               `json:"agents"`
	LLMStats llm.StatsSnapshot `json:"llm_stats"`
}

// agentListResponse is the body of GET /api/agents.
type agentListResponse struct {
	Agents []*models.Agent `json:"agents"`
	Count  int             `json:"count"`
}

// promptsResponse carries the full template map.
type promptsResponse struct {
	Prompts map[string]string `json:"prompts"`
}

// retrievalStatusResponse is the body of GET /api/retrieval/status.
type retrievalStatusResponse struct {
	Enabled   bool   `json:"enabled"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
	Model     string `json:"model"`
}
