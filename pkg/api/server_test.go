package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copydesk/stringer/pkg/config"
	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/store"
	"github.com/copydesk/stringer/pkg/vector"
	"github.com/copydesk/stringer/pkg/workflow"
)

// apiFixture hosts the full server over real stores in a temp directory.
type apiFixture struct {
	router    *gin.Engine
	agents    *store.Store
	settings  *settings.Store
	index     *vector.Index
	pool      *workflow.Pool
	publisher *events.Publisher
	manager   *events.ConnectionManager
}

// newFixture builds a server with retrieval left at its disabled default
// and no embedder.
func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	return buildFixture(t, nil)
}

// newRetrievalFixture builds a server whose retriever embeds through the
// given endpoint at dimension 3.
func newRetrievalFixture(t *testing.T, embedderURL string) *apiFixture {
	t.Helper()
	embedder, err := vector.NewEmbedder(vector.EmbedderConfig{
		BaseURL:   embedderURL,
		Model:     "test-embed",
		Dimension: 3,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	return buildFixture(t, embedder)
}

func buildFixture(t *testing.T, embedder *vector.Embedder) *apiFixture {
	t.Helper()
	dir := t.TempDir()

	settingsStore := settings.NewStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, settingsStore.Load())

	agents := store.NewStore(filepath.Join(dir, "agents.json"))
	require.NoError(t, agents.Load())

	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	manager := events.NewConnectionManager(bus, time.Second)

	index := vector.NewIndex(3, vector.MetricInnerProduct,
		filepath.Join(dir, "vectors.bin"), filepath.Join(dir, "vectors.meta.json"))
	require.NoError(t, index.LoadOrCreate())

	retriever := vector.NewRetriever(index, embedder, settingsStore, publisher)
	llmClient := llm.NewClient(settingsStore, publisher, 2)

	pool := workflow.New(agents, settingsStore, llmClient, retriever, publisher, config.WorkflowConfig{
		MaxConcurrentLLMCalls: 2,
		HaltWait:              time.Minute,
		AutoRestartDelay:      10 * time.Millisecond,
	})
	t.Cleanup(pool.Shutdown)

	srv := New(agents, settingsStore, pool, retriever, index, llmClient, manager)
	return &apiFixture{
		router:    srv.Router(),
		agents:    agents,
		settings:  settingsStore,
		index:     index,
		pool:      pool,
		publisher: publisher,
		manager:   manager,
	}
}

// do runs one JSON request through the router.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// doRaw sends a literal body, for malformed-JSON cases.
func (f *apiFixture) doRaw(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a response body.
func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

// errBody returns the error message of an {error} response.
func errBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, rec, &body)
	return body.Error
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	seedAgent(t, f, "probe")

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Version)
	assert.Equal(t, 1, body.Agents)
	assert.Zero(t, body.LLMStats.TotalCalls)
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Permissions-Policy"))
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", errBody(t, rec))
}
