package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// retrievalQueryHandler handles POST /api/retrieval/query: an ad-hoc index
// search with the same descent the tasks use, for inspecting what a task
// would be handed.
func (s *Server) retrievalQueryHandler(c *gin.Context) {
	var req retrievalQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(c, "query is required")
		return
	}
	if req.HitTarget < 0 || req.TopK < 0 {
		badRequest(c, "hit_target and top_k must not be negative")
		return
	}

	result, err := s.retriever.Query(c.Request.Context(), req.Query, req.AgentContext, req.HitTarget, req.TopK)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// retrievalStatusHandler handles GET /api/retrieval/status.
func (s *Server) retrievalStatusHandler(c *gin.Context) {
	cfg := s.settings.GetRetrievalConfig()
	c.JSON(http.StatusOK, retrievalStatusResponse{
		Enabled:   cfg.Enabled,
		Count:     s.index.Count(),
		Dimension: s.index.Dimension(),
		Model:     cfg.EmbeddingModel,
	})
}
