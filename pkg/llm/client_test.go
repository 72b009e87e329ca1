package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/settings"
)

type clientFixture struct {
	client *Client
	store  *settings.Store
	bus    *events.Bus
}

func newClientFixture(t *testing.T, maxConcurrent int, handler http.HandlerFunc) *clientFixture {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, store.Load())
	require.NoError(t, store.UpdateLLMConfig(settings.LLMConfig{
		URL:         srv.URL,
		Model:       "test-model",
		PayloadType: settings.PayloadTypeMessage,
		Timeout:     5,
		MaxTokens:   128,
		Temperature: 0.7,
	}))

	bus := events.NewBus()
	return &clientFixture{
		client: NewClient(store, events.NewPublisher(bus), maxConcurrent),
		store:  store,
		bus:    bus,
	}
}

func drainEvents(t *testing.T, ch <-chan events.Event, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d expected events", len(out), n)
		}
	}
	return out
}

func TestCallNonStreamingMessage(t *testing.T) {
	var gotBody map[string]any
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"the story"}}],"usage":{"total_tokens":30}}`)
	})

	text, err := f.client.Call(context.Background(), CallOptions{Prompt: "write it", AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "the story", text)

	assert.Equal(t, "test-model", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])
	assert.Equal(t, 0.7, gotBody["temperature"])
	assert.Equal(t, float64(128), gotBody["max_tokens"])

	snap := f.client.Stats()
	assert.Equal(t, int64(1), snap.TotalCalls)
	assert.Equal(t, int64(30), snap.TotalTokens)
}

func TestCallNonStreamingCompletion(t *testing.T) {
	var gotBody map[string]any
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"response":"done","eval_count":6,"prompt_eval_count":4}`)
	})
	cfg := f.store.GetLLMConfig()
	cfg.PayloadType = settings.PayloadTypeCompletion
	require.NoError(t, f.store.UpdateLLMConfig(cfg))

	text, err := f.client.Call(context.Background(), CallOptions{Prompt: "write it", AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	assert.Equal(t, "write it", gotBody["prompt"])
	options, ok := gotBody["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(128), options["num_predict"])
	assert.Equal(t, int64(10), f.client.Stats().TotalTokens)
}

func TestCallStreamingPublishesEvents(t *testing.T) {
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	})

	subID, ch := f.bus.Subscribe(events.AgentChannel("a1"))
	defer f.bus.Unsubscribe(events.AgentChannel("a1"), subID)

	var fragments []string
	text, err := f.client.Call(context.Background(), CallOptions{
		Prompt:     "write it",
		Stream:     true,
		OnFragment: func(frag string) { fragments = append(fragments, frag) },
		AgentID:    "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, []string{"Hel", "lo"}, fragments)

	evts := drainEvents(t, ch, 2)
	assert.Equal(t, events.EventTypeLLMRequest, evts[0].Type)
	assert.Equal(t, events.EventTypeLLMResponse, evts[1].Type)

	var reqPayload events.LLMRequestPayload
	require.NoError(t, json.Unmarshal(evts[0].Payload, &reqPayload))
	assert.Equal(t, "test-model", reqPayload.Model)
	assert.Equal(t, "write it", reqPayload.Prompt)
	assert.InDelta(t, 0.7, reqPayload.Temperature, 1e-9)

	var respPayload events.LLMResponsePayload
	require.NoError(t, json.Unmarshal(evts[1].Payload, &respPayload))
	assert.True(t, respPayload.Success)
	assert.Equal(t, "Hello", respPayload.Text)
	assert.Equal(t, 5, respPayload.ResponseLength)
	assert.GreaterOrEqual(t, respPayload.GenerationTime, 0.0)
}

func TestCallCancelledMidStream(t *testing.T) {
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"second\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	})

	subID, ch := f.bus.Subscribe(events.AgentChannel("a1"))
	defer f.bus.Unsubscribe(events.AgentChannel("a1"), subID)

	seen := 0
	_, err := f.client.Call(context.Background(), CallOptions{
		Prompt:      "write it",
		Stream:      true,
		OnFragment:  func(string) { seen++ },
		CancelCheck: func() bool { return seen >= 1 },
		AgentID:     "a1",
	})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, 1, seen)

	evts := drainEvents(t, ch, 2)
	var respPayload events.LLMResponsePayload
	require.NoError(t, json.Unmarshal(evts[1].Payload, &respPayload))
	assert.False(t, respPayload.Success)
	assert.Contains(t, respPayload.Error, "cancelled")

	assert.Equal(t, int64(0), f.client.Stats().TotalCalls)
}

func TestCallTimeout(t *testing.T) {
	release := make(chan struct{})
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg := f.store.GetLLMConfig()
	cfg.Timeout = 1
	require.NoError(t, f.store.UpdateLLMConfig(cfg))

	start := time.Now()
	_, err := f.client.Call(context.Background(), CallOptions{Prompt: "write it", AgentID: "a1"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, int64(0), f.client.Stats().TotalCalls)
}

func TestCallTransportError(t *testing.T) {
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {})

	// Reconfigure to a server that is no longer listening.
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()
	cfg := f.store.GetLLMConfig()
	cfg.URL = deadURL
	require.NoError(t, f.store.UpdateLLMConfig(cfg))

	_, err := f.client.Call(context.Background(), CallOptions{Prompt: "write it", AgentID: "a1"})
	require.Error(t, err)
	assert.True(t, IsTransport(err), "got %v", err)
}

func TestCallBadResponseStatus(t *testing.T) {
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := f.client.Call(context.Background(), CallOptions{Prompt: "write it", AgentID: "a1"})
	require.Error(t, err)
	assert.True(t, IsBadResponse(err))
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestCallBadResponseNoText(t *testing.T) {
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := f.client.Call(context.Background(), CallOptions{Prompt: "write it", AgentID: "a1"})
	require.Error(t, err)
	assert.True(t, IsBadResponse(err))
	assert.Equal(t, int64(0), f.client.Stats().TotalCalls)
}

func TestCallOverridesForwarded(t *testing.T) {
	var gotBody map[string]any
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	temp := 0.2
	maxTokens := 64
	_, err := f.client.Call(context.Background(), CallOptions{
		Prompt:      "validate it",
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		AgentID:     "a1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.2, gotBody["temperature"])
	assert.Equal(t, float64(64), gotBody["max_tokens"])
}

func TestCallAppliesConfiguredHeaders(t *testing.T) {
	var gotAuth, gotContentType string
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	cfg := f.store.GetLLMConfig()
	cfg.Headers = map[string]string{"Authorization": "Bearer sk-test"}
	require.NoError(t, f.store.UpdateLLMConfig(cfg))

	_, err := f.client.Call(context.Background(), CallOptions{Prompt: "p", AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
}

func TestCallConcurrencyCap(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	f := newClientFixture(t, 1, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if n <= prev || maxInFlight.CompareAndSwap(prev, n) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		inFlight.Add(-1)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.Call(context.Background(), CallOptions{Prompt: "p", AgentID: "a1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int64(3), f.client.Stats().TotalCalls)
}

func TestCallStreamEOFWithoutDoneSucceeds(t *testing.T) {
	f := newClientFixture(t, 2, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial answer\"}}]}\n")
	})

	text, err := f.client.Call(context.Background(), CallOptions{Prompt: "p", Stream: true, AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "partial answer", text)
	assert.Equal(t, int64(1), f.client.Stats().TotalCalls)
}
