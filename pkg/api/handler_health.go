package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copydesk/stringer/pkg/version"
)

// healthHandler handles GET /api/health. The response is safe for
// unauthenticated access; the LLM endpoint itself is deliberately not
// probed, so a down model service never makes an orchestrator restart us.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  version.GitCommit,
		Agents:   s.agents.Count(),
		LLMStats: s.llm.Stats(),
	})
}
