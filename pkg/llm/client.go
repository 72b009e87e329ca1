// Package llm is the streaming client for the generation endpoint. One
// Call is one outbound POST; the endpoint, model, payload shape and limits
// are read from the settings store at call time, so settings changes apply
// to the next call without a restart.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/settings"
)

// Client issues LLM calls. Safe for concurrent use; a weighted semaphore
// caps in-flight calls across all agents.
type Client struct {
	settings   *settings.Store
	publisher  *events.Publisher
	httpClient *http.Client
	sem        *semaphore.Weighted
	stats      Stats
}

// NewClient creates a client over the settings store. maxConcurrent caps
// simultaneous outbound calls; values below one mean no parallelism.
func NewClient(settings *settings.Store, publisher *events.Publisher, maxConcurrent int) *Client {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Client{
		settings:  settings,
		publisher: publisher,
		// Per-call deadlines come from the call context, not the transport.
		httpClient: &http.Client{},
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// CallOptions parameterizes a single call. Temperature and MaxTokens
// override the settings defaults when set. OnFragment receives each
// streamed fragment synchronously; CancelCheck is consulted after each
// fragment and abandons the stream when it returns true. AgentID
// attributes the llm_request/llm_response events.
type CallOptions struct {
	Prompt      string
	Temperature *float64
	MaxTokens   *int
	Stream      bool
	OnFragment  func(string)
	CancelCheck func() bool
	AgentID     string
}

// Call performs one LLM call and returns the full response text. Errors
// are *CallError values; see the Is* helpers for classification.
func (c *Client) Call(ctx context.Context, opts CallOptions) (string, error) {
	cfg := c.settings.GetLLMConfig()

	temperature := cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := cfg.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", classify(err)
	}
	defer c.sem.Release(1)

	if err := c.publisher.PublishLLMRequest(opts.AgentID, events.LLMRequestPayload{
		Endpoint:    cfg.URL,
		Model:       cfg.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Prompt:      opts.Prompt,
		PayloadType: cfg.PayloadType,
	}); err != nil {
		slog.Warn("Failed to publish llm_request event", "agent_id", opts.AgentID, "error", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	body, err := json.Marshal(buildPayload(cfg, opts.Prompt, temperature, maxTokens, opts.Stream))
	if err != nil {
		return c.fail(opts.AgentID, classify(fmt.Errorf("failed to marshal request: %w", err)))
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return c.fail(opts.AgentID, classify(err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(opts.AgentID, classify(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return c.fail(opts.AgentID, badResponse(
			fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(preview)))))
	}

	var text string
	var tokens int
	if opts.Stream {
		text, tokens, err = consumeStream(resp.Body, cfg.PayloadType, opts.OnFragment, opts.CancelCheck)
		if err != nil {
			return c.fail(opts.AgentID, classify(err))
		}
		if text == "" {
			return c.fail(opts.AgentID, badResponse(fmt.Errorf("stream contained no text")))
		}
	} else {
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return c.fail(opts.AgentID, classify(readErr))
		}
		text, tokens, err = extractText(cfg.PayloadType, raw)
		if err != nil {
			return c.fail(opts.AgentID, badResponse(err))
		}
	}

	elapsed := time.Since(start)
	if tokens == 0 {
		tokens = estimateTokens(text)
	}
	c.stats.record(elapsed, tokens)

	if err := c.publisher.PublishLLMResponse(opts.AgentID, events.LLMResponsePayload{
		Success:        true,
		Text:           text,
		GenerationTime: elapsed.Seconds(),
		ResponseLength: utf8.RuneCountInString(text),
	}); err != nil {
		slog.Warn("Failed to publish llm_response event", "agent_id", opts.AgentID, "error", err)
	}
	return text, nil
}

// Stats returns a snapshot of the cumulative call counters.
func (c *Client) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// fail publishes the failure event and hands the classified error back.
func (c *Client) fail(agentID string, callErr *CallError) (string, error) {
	if err := c.publisher.PublishLLMResponse(agentID, events.LLMResponsePayload{
		Success: false,
		Error:   callErr.Error(),
	}); err != nil {
		slog.Warn("Failed to publish llm_response event", "agent_id", agentID, "error", err)
	}
	return "", callErr
}
