package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copydesk/stringer/pkg/settings"
)

// getSettingsHandler handles GET /api/settings: the whole document.
func (s *Server) getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Get())
}

// getLLMConfigHandler handles GET /api/settings/llm.
func (s *Server) getLLMConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.GetLLMConfig())
}

// updateLLMConfigHandler handles PUT /api/settings/llm. The body is the
// full config; validation failures come back as 400.
func (s *Server) updateLLMConfigHandler(c *gin.Context) {
	var cfg settings.LLMConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.settings.UpdateLLMConfig(cfg); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.settings.GetLLMConfig())
}

// getRetrievalConfigHandler handles GET /api/settings/retrieval.
func (s *Server) getRetrievalConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.GetRetrievalConfig())
}

// updateRetrievalConfigHandler handles PUT /api/settings/retrieval. The
// body is a partial config merged into the current one.
func (s *Server) updateRetrievalConfigHandler(c *gin.Context) {
	var patch settings.RetrievalPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := s.settings.UpdateRetrievalConfig(patch); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.settings.GetRetrievalConfig())
}

// getPromptsHandler handles GET /api/settings/prompts.
func (s *Server) getPromptsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, promptsResponse{Prompts: s.settings.GetAllPrompts()})
}

// updatePromptsHandler handles PUT /api/settings/prompts: a bulk template
// update, all-or-nothing.
func (s *Server) updatePromptsHandler(c *gin.Context) {
	var req updatePromptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(req.Prompts) == 0 {
		badRequest(c, "prompts object is required")
		return
	}
	if err := s.settings.UpdatePrompts(req.Prompts); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, promptsResponse{Prompts: s.settings.GetAllPrompts()})
}

// updatePromptHandler handles PUT /api/settings/prompts/:name.
func (s *Server) updatePromptHandler(c *gin.Context) {
	var req updatePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	name := c.Param("name")
	if err := s.settings.UpdatePrompt(name, req.Prompt); err != nil {
		mapError(c, err)
		return
	}
	prompt, err := s.settings.GetPrompt(name)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "prompt": prompt})
}

// resetSettingsHandler handles POST /api/settings/reset: back to the
// built-in defaults, persisted.
func (s *Server) resetSettingsHandler(c *gin.Context) {
	if err := s.settings.ResetToDefaults(); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.settings.Get())
}
