package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/copydesk/stringer/pkg/models"
)

// createAgentHandler handles POST /api/agents.
func (s *Server) createAgentHandler(c *gin.Context) {
	// 1. Bind
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	// 2. Validate
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		badRequest(c, "name is required")
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		badRequest(c, "temperature must be between 0 and 2")
		return
	}

	// 3. Default the temperature from settings
	temperature := s.settings.GetLLMConfig().Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	// 4. Create
	agent, err := s.agents.Create(req.Name, req.Context, temperature, req.Auto, req.Halt)
	if err != nil {
		mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, agent)
}

// listAgentsHandler handles GET /api/agents, oldest first.
func (s *Server) listAgentsHandler(c *gin.Context) {
	agents := s.agents.List()
	c.JSON(http.StatusOK, agentListResponse{Agents: agents, Count: len(agents)})
}

// getAgentHandler handles GET /api/agents/:id.
func (s *Server) getAgentHandler(c *gin.Context) {
	agent, err := s.agents.GetSerializable(c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// updateAgentHandler handles PATCH /api/agents/:id. While the agent is
// running only auto and halt may change: name, context, and temperature
// feed prompts the worker is already composing. Halted is editable; that
// is exactly when an editor reviews and adjusts before continuing.
func (s *Server) updateAgentHandler(c *gin.Context) {
	var req updateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		badRequest(c, "name must not be empty")
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		badRequest(c, "temperature must be between 0 and 2")
		return
	}

	id := c.Param("id")
	current, err := s.agents.GetSerializable(id)
	if err != nil {
		mapError(c, err)
		return
	}
	if current.Status == models.StatusRunning &&
		(req.Name != nil || req.Context != nil || req.Temperature != nil) {
		c.JSON(http.StatusConflict,
			gin.H{"error": "only auto and halt can change while the agent is running"})
		return
	}

	if err := s.agents.Update(id, func(a *models.Agent) {
		if req.Name != nil {
			a.Name = strings.TrimSpace(*req.Name)
		}
		if req.Context != nil {
			a.Context = *req.Context
		}
		if req.Temperature != nil {
			a.Temperature = *req.Temperature
		}
		if req.Auto != nil {
			a.Auto = *req.Auto
		}
		if req.Halt != nil {
			a.Halt = *req.Halt
		}
	}); err != nil {
		mapError(c, err)
		return
	}

	updated, err := s.agents.GetSerializable(id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteAgentHandler handles DELETE /api/agents/:id. A live worker is
// cancelled by the store before the record goes.
func (s *Server) deleteAgentHandler(c *gin.Context) {
	if err := s.agents.Delete(c.Param("id")); err != nil {
		mapError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// clearCompletedHandler handles POST /api/agents/clear-completed.
func (s *Server) clearCompletedHandler(c *gin.Context) {
	removed, err := s.agents.ClearCompleted()
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// respondLifecycle rereads the record after a lifecycle operation so the
// client sees it as the operation left it.
func (s *Server) respondLifecycle(c *gin.Context, id string, status int, err error) {
	if err != nil {
		mapError(c, err)
		return
	}
	agent, gerr := s.agents.GetSerializable(id)
	if gerr != nil {
		mapError(c, gerr)
		return
	}
	c.JSON(status, agent)
}

// startAgentHandler handles POST /api/agents/:id/start. The run is
// asynchronous; 202 means a worker was registered.
func (s *Server) startAgentHandler(c *gin.Context) {
	id := c.Param("id")
	s.respondLifecycle(c, id, http.StatusAccepted, s.pool.Start(id))
}

// haltAgentHandler handles POST /api/agents/:id/halt. Sets the halt flag;
// the worker parks at its next boundary.
func (s *Server) haltAgentHandler(c *gin.Context) {
	id := c.Param("id")
	s.respondLifecycle(c, id, http.StatusOK, s.pool.Halt(id))
}

// continueAgentHandler handles POST /api/agents/:id/continue.
func (s *Server) continueAgentHandler(c *gin.Context) {
	id := c.Param("id")
	s.respondLifecycle(c, id, http.StatusAccepted, s.pool.Continue(id))
}

// stopAgentHandler handles POST /api/agents/:id/stop. Synchronous: the
// worker has released its slot by the time the response is written.
func (s *Server) stopAgentHandler(c *gin.Context) {
	id := c.Param("id")
	s.respondLifecycle(c, id, http.StatusOK, s.pool.Stop(id))
}

// redoTaskHandler handles POST /api/agents/:id/redo-task.
func (s *Server) redoTaskHandler(c *gin.Context) {
	id := c.Param("id")
	s.respondLifecycle(c, id, http.StatusAccepted, s.pool.RedoTask(id))
}

// redoTasklistHandler handles POST /api/agents/:id/redo-tasklist.
func (s *Server) redoTasklistHandler(c *gin.Context) {
	id := c.Param("id")
	s.respondLifecycle(c, id, http.StatusAccepted, s.pool.RedoTasklist(id))
}
