package llm

import (
	"encoding/json"
	"fmt"

	"github.com/copydesk/stringer/pkg/settings"
)

// buildPayload assembles the request body for the configured payload type.
// message speaks the chat-completions shape, completion the bare-prompt
// shape with generation knobs nested under options.
func buildPayload(cfg settings.LLMConfig, prompt string, temperature float64, maxTokens int, stream bool) map[string]any {
	switch cfg.PayloadType {
	case settings.PayloadTypeCompletion:
		options := map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		}
		if cfg.TopP != nil {
			options["top_p"] = *cfg.TopP
		}
		if cfg.TopK != nil {
			options["top_k"] = *cfg.TopK
		}
		return map[string]any{
			"model":   cfg.Model,
			"prompt":  prompt,
			"stream":  stream,
			"options": options,
		}
	default:
		payload := map[string]any{
			"model": cfg.Model,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
			"temperature": temperature,
			"max_tokens":  maxTokens,
			"stream":      stream,
		}
		if cfg.TopP != nil {
			payload["top_p"] = *cfg.TopP
		}
		if cfg.TopK != nil {
			payload["top_k"] = *cfg.TopK
		}
		return payload
	}
}

type usageBlock struct {
	TotalTokens int `json:"total_tokens"`
}

type messageResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
}

type completionResponse struct {
	Response        string      `json:"response"`
	EvalCount       int         `json:"eval_count"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	Usage           *usageBlock `json:"usage"`
}

type messageChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
}

// extractText pulls the completion text and reported token count from a
// non-streaming response body. An empty text field is a bad response: the
// endpoint answered but produced nothing usable.
func extractText(payloadType string, body []byte) (string, int, error) {
	switch payloadType {
	case settings.PayloadTypeCompletion:
		var resp completionResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, fmt.Errorf("failed to parse response: %w", err)
		}
		if resp.Response == "" {
			return "", 0, fmt.Errorf("response contains no text")
		}
		tokens := resp.EvalCount + resp.PromptEvalCount
		if tokens == 0 && resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		return resp.Response, tokens, nil
	default:
		var resp messageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", 0, fmt.Errorf("failed to parse response: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", 0, fmt.Errorf("response contains no text")
		}
		tokens := 0
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		return resp.Choices[0].Message.Content, tokens, nil
	}
}

// extractFragment pulls the incremental text fragment and any reported
// token usage from one streamed chunk. ok is false for chunks that do not
// parse; the stream reader skips those.
func extractFragment(payloadType string, chunk []byte) (fragment string, tokens int, ok bool) {
	switch payloadType {
	case settings.PayloadTypeCompletion:
		var c completionResponse
		if err := json.Unmarshal(chunk, &c); err != nil {
			return "", 0, false
		}
		tokens = c.EvalCount + c.PromptEvalCount
		if tokens == 0 && c.Usage != nil {
			tokens = c.Usage.TotalTokens
		}
		return c.Response, tokens, true
	default:
		var c messageChunk
		if err := json.Unmarshal(chunk, &c); err != nil {
			return "", 0, false
		}
		if c.Usage != nil {
			tokens = c.Usage.TotalTokens
		}
		if len(c.Choices) == 0 {
			return "", tokens, true
		}
		return c.Choices[0].Delta.Content, tokens, true
	}
}
