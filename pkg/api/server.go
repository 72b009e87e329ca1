// Package api hosts the HTTP and WebSocket surface: agent CRUD and
// lifecycle operations, runtime settings management, ad-hoc retrieval
// queries, and the event stream upgrade. Handlers translate between HTTP
// and the application services; all domain behavior lives in the services.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/store"
	"github.com/copydesk/stringer/pkg/vector"
	"github.com/copydesk/stringer/pkg/workflow"
)

// Server wires the HTTP handlers to the application services.
type Server struct {
	agents    *store.Store
	settings  *settings.Store
	pool      *workflow.Pool
	retriever *vector.Retriever
	index     *vector.Index
	llm       *llm.Client
	ws        *events.ConnectionManager
}

// New creates a Server over the given services.
func New(agents *store.Store, settingsStore *settings.Store, pool *workflow.Pool,
	retriever *vector.Retriever, index *vector.Index, llmClient *llm.Client,
	ws *events.ConnectionManager) *Server {
	return &Server{
		agents:    agents,
		settings:  settingsStore,
		pool:      pool,
		retriever: retriever,
		index:     index,
		llm:       llmClient,
		ws:        ws,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(securityHeaders())

	// The dashboard is typically served from a dev server on another port.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	r.Use(cors.New(corsConfig))

	api := r.Group("/api")
	{
		api.GET("/health", s.healthHandler)

		agents := api.Group("/agents")
		{
			agents.POST("", s.createAgentHandler)
			agents.GET("", s.listAgentsHandler)
			agents.POST("/clear-completed", s.clearCompletedHandler)
			agents.GET("/:id", s.getAgentHandler)
			agents.PATCH("/:id", s.updateAgentHandler)
			agents.DELETE("/:id", s.deleteAgentHandler)

			agents.POST("/:id/start", s.startAgentHandler)
			agents.POST("/:id/halt", s.haltAgentHandler)
			agents.POST("/:id/continue", s.continueAgentHandler)
			agents.POST("/:id/stop", s.stopAgentHandler)
			agents.POST("/:id/redo-task", s.redoTaskHandler)
			agents.POST("/:id/redo-tasklist", s.redoTasklistHandler)
		}

		st := api.Group("/settings")
		{
			st.GET("", s.getSettingsHandler)
			st.GET("/llm", s.getLLMConfigHandler)
			st.PUT("/llm", s.updateLLMConfigHandler)
			st.GET("/retrieval", s.getRetrievalConfigHandler)
			st.PUT("/retrieval", s.updateRetrievalConfigHandler)
			st.GET("/prompts", s.getPromptsHandler)
			st.PUT("/prompts", s.updatePromptsHandler)
			st.PUT("/prompts/:name", s.updatePromptHandler)
			st.POST("/reset", s.resetSettingsHandler)
		}

		retrieval := api.Group("/retrieval")
		{
			retrieval.POST("/query", s.retrievalQueryHandler)
			retrieval.GET("/status", s.retrievalStatusHandler)
		}
	}

	r.GET("/ws", s.websocketHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}
