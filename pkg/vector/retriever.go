package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/models"
	"github.com/copydesk/stringer/pkg/settings"
)

// ErrRetrievalDisabled is returned for ad-hoc queries while retrieval is
// switched off. Task retrieval never sees it; a disabled retriever hands
// tasks an empty result instead.
var ErrRetrievalDisabled = errors.New("retrieval is disabled")

// ToolVectorSearch names the retrieval tool in events and task records.
const ToolVectorSearch = "vector_search"

// TypeTaskOutput marks index entries ingested from validated task outputs.
const TypeTaskOutput = "task_output"

// initialThreshold is where every descent starts.
const initialThreshold = 1.0

// previewLength caps query and document text carried in events.
const previewLength = 200

// Document is one retrieved entry with its full content.
type Document struct {
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Filename string  `json:"filename"`
	Type     string  `json:"type"`
	Index    int     `json:"index"`
}

// RetrievalResult is what a task receives from the retrieval tool.
type RetrievalResult struct {
	Documents      []Document `json:"documents"`
	ThresholdUsed  float64    `json:"threshold_used"`
	RetrievalTime  float64    `json:"retrieval_time"`
	ThresholdStats Stats      `json:"threshold_stats"`
	Query          string     `json:"query"`
}

// Retriever runs similarity searches for tasks and ingests validated task
// outputs back into the index.
type Retriever struct {
	index     *Index
	embedder  *Embedder
	settings  *settings.Store
	publisher *events.Publisher
}

// NewRetriever wires the retrieval tool together.
func NewRetriever(index *Index, embedder *Embedder, settings *settings.Store, publisher *events.Publisher) *Retriever {
	return &Retriever{
		index:     index,
		embedder:  embedder,
		settings:  settings,
		publisher: publisher,
	}
}

// RetrieveForTask searches the index for content relevant to a task.
// The search text puts the agent's own context first, then the task query,
// separated by a blank line. Retrieval being disabled yields an empty
// result without touching the index.
func (r *Retriever) RetrieveForTask(ctx context.Context, agentID string, taskID int, taskQuery, agentContext string) (*RetrievalResult, error) {
	cfg := r.settings.GetRetrievalConfig()
	if !cfg.Enabled {
		return &RetrievalResult{}, nil
	}

	searchText := agentContext + "\n\n" + taskQuery

	if err := r.publisher.PublishToolCallStart(agentID, events.ToolCallStartPayload{
		TaskID: taskID,
		Tool:   ToolVectorSearch,
		Query:  truncateRunes(searchText, previewLength),
	}); err != nil {
		slog.Warn("Failed to publish tool_call_start", "agent_id", agentID, "error", err)
	}

	start := time.Now()
	queryVec, err := r.embedder.Embed(ctx, searchText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search text: %w", err)
	}

	var searched SearchResult
	if cfg.Dynamic {
		searched = r.index.DynamicSearch(queryVec, cfg.TopK, cfg.HitTarget, cfg.Step, initialThreshold,
			func(attempt Attempt) {
				if err := r.publisher.PublishToolThresholdAttempt(agentID, events.ToolThresholdAttemptPayload{
					TaskID:        taskID,
					Threshold:     attempt.Threshold,
					Hits:          attempt.Hits,
					TargetReached: attempt.TargetReached,
				}); err != nil {
					slog.Warn("Failed to publish tool_threshold_attempt", "agent_id", agentID, "error", err)
				}
			})
	} else {
		// No descent: the plain top-k, floored at zero similarity.
		searched = r.index.FixedSearch(queryVec, cfg.TopK, 0)
	}
	elapsed := time.Since(start).Seconds()

	docs := r.collectDocuments(searched.Matches)
	previews := make([]events.DocumentPreview, 0, len(docs))
	for _, d := range docs {
		previews = append(previews, events.DocumentPreview{
			Score:    d.Score,
			Filename: d.Filename,
			Preview:  truncateRunes(d.Content, previewLength),
		})
	}

	if err := r.publisher.PublishToolCallComplete(agentID, events.ToolCallCompletePayload{
		TaskID:        taskID,
		DocumentCount: len(docs),
		ThresholdUsed: searched.Stats.FinalThreshold,
		RetrievalTime: elapsed,
		Documents:     previews,
	}); err != nil {
		slog.Warn("Failed to publish tool_call_complete", "agent_id", agentID, "error", err)
	}

	return &RetrievalResult{
		Documents:      docs,
		ThresholdUsed:  searched.Stats.FinalThreshold,
		RetrievalTime:  elapsed,
		ThresholdStats: searched.Stats,
		Query:          searchText,
	}, nil
}

// Query runs an ad-hoc search outside any task, for callers inspecting what
// the index would hand a task. hitTarget and topK override the configured
// values when positive. No tool events are published; ad-hoc queries belong
// to no agent.
func (r *Retriever) Query(ctx context.Context, query, agentContext string, hitTarget, topK int) (*RetrievalResult, error) {
	cfg := r.settings.GetRetrievalConfig()
	if !cfg.Enabled {
		return nil, ErrRetrievalDisabled
	}
	if hitTarget <= 0 {
		hitTarget = cfg.HitTarget
	}
	if topK <= 0 {
		topK = cfg.TopK
	}

	searchText := query
	if agentContext != "" {
		searchText = agentContext + "\n\n" + query
	}

	start := time.Now()
	queryVec, err := r.embedder.Embed(ctx, searchText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search text: %w", err)
	}

	var searched SearchResult
	if cfg.Dynamic {
		searched = r.index.DynamicSearch(queryVec, topK, hitTarget, cfg.Step, initialThreshold, nil)
	} else {
		searched = r.index.FixedSearch(queryVec, topK, 0)
	}
	elapsed := time.Since(start).Seconds()

	return &RetrievalResult{
		Documents:      r.collectDocuments(searched.Matches),
		ThresholdUsed:  searched.Stats.FinalThreshold,
		RetrievalTime:  elapsed,
		ThresholdStats: searched.Stats,
		Query:          searchText,
	}, nil
}

// collectDocuments resolves match positions to their stored metadata.
// Entries whose metadata is gone are skipped.
func (r *Retriever) collectDocuments(matches []Match) []Document {
	docs := make([]Document, 0, len(matches))
	for _, m := range matches {
		meta, ok := r.index.MetadataAt(m.Index)
		if !ok {
			continue
		}
		docs = append(docs, Document{
			Content:  meta.Content,
			Score:    m.Score,
			Filename: meta.Filename,
			Type:     meta.Type,
			Index:    m.Index,
		})
	}
	return docs
}

// FormatDocuments renders retrieved documents as the context block handed
// to the task prompt, truncated to maxLen runes with an ellipsis line.
func FormatDocuments(result *RetrievalResult, maxLen int) string {
	if result == nil || len(result.Documents) == 0 {
		return ""
	}

	var b strings.Builder
	for i, doc := range result.Documents {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (score %.2f) %s\n%s", i+1, doc.Score, doc.Filename, doc.Content)
	}

	out := b.String()
	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		runes := []rune(out)
		out = string(runes[:maxLen]) + "\n... [truncated]"
	}
	return out
}

// StoreTaskOutput ingests a validated task output into the index so later
// tasks and runs can retrieve it. The index is persisted by the Add, which
// is why callers invoke this before saving the agent record: the stored
// record never references content the index does not hold.
func (r *Retriever) StoreTaskOutput(ctx context.Context, agent *models.Agent, task *models.Task) error {
	cfg := r.settings.GetRetrievalConfig()
	if !cfg.Enabled || !cfg.StoreTaskOutputs {
		return nil
	}
	if task.Validation == nil || !task.Validation.IsValid {
		return nil
	}
	if strings.TrimSpace(task.Output) == "" {
		return nil
	}

	vec, err := r.embedder.Embed(ctx, task.Output)
	if err != nil {
		return fmt.Errorf("failed to embed task output: %w", err)
	}

	meta := Metadata{
		Content:  task.Output,
		Filename: fmt.Sprintf("%s_%d.txt", agent.Name, task.ID),
		Type:     TypeTaskOutput,
		Extra: map[string]string{
			"agent_name": agent.Name,
			"task_name":  task.Name,
			"goal":       agent.Goal(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := r.index.Add([][]float32{vec}, []Metadata{meta}, true); err != nil {
		return fmt.Errorf("failed to index task output: %w", err)
	}
	return nil
}

// truncateRunes shortens s to max runes, marking the cut with an ellipsis.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
