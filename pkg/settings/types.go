// Package settings manages the runtime-mutable settings document: LLM
// connection parameters, prompt templates, and retrieval configuration.
// One document per process, persisted as JSON with backup-rename replace.
package settings

// Payload shapes the LLM client can speak.
const (
	PayloadTypeMessage    = "message"    // chat-completions style body
	PayloadTypeCompletion = "completion" // bare-prompt style body
)

// Supported UI languages.
const (
	LanguageEnglish = "en"
	LanguageFinnish = "fi"
)

// Document is the complete settings record.
type Document struct {
	Language  string            `json:"language"`
	LLM       LLMConfig         `json:"llm"`
	Prompts   map[string]string `json:"prompts"`
	Retrieval RetrievalConfig   `json:"retrieval"`
}

// LLMConfig describes how to reach the generation endpoint.
type LLMConfig struct {
	URL         string            `json:"url"`
	Model       string            `json:"model"`
	PayloadType string            `json:"payload_type"` // message | completion
	Timeout     int               `json:"timeout"`      // per-call ceiling, seconds
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"` // default when the caller passes none
	TopP        *float64          `json:"top_p,omitempty"`
	TopK        *int              `json:"top_k,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// RetrievalConfig describes the vector index and the adaptive retriever.
type RetrievalConfig struct {
	Enabled          bool    `json:"enabled"`
	EmbeddingModel   string  `json:"embedding_model"`
	EmbeddingURL     string  `json:"embedding_url"` // OpenAI-compatible /embeddings base
	Dimension        int     `json:"dimension"`
	IndexPath        string  `json:"index_path"`    // resolved under data_dir when relative
	MetadataPath     string  `json:"metadata_path"` // sidecar, same resolution rule
	HitTarget        int     `json:"hit_target"`
	TopK             int     `json:"top_k"`
	Step             float64 `json:"step"` // threshold descent step, (0,1]
	Dynamic          bool    `json:"dynamic"`
	StoreTaskOutputs bool    `json:"store_task_outputs"`
	MaxContextLength int     `json:"max_context_length"` // formatted context cap, runes
}

// RetrievalPatch is a partial retrieval-config update; nil fields keep
// their current value. Pointer fields let callers set false/zero
// explicitly.
type RetrievalPatch struct {
	Enabled          *bool    `json:"enabled,omitempty"`
	EmbeddingModel   *string  `json:"embedding_model,omitempty"`
	EmbeddingURL     *string  `json:"embedding_url,omitempty"`
	Dimension        *int     `json:"dimension,omitempty"`
	IndexPath        *string  `json:"index_path,omitempty"`
	MetadataPath     *string  `json:"metadata_path,omitempty"`
	HitTarget        *int     `json:"hit_target,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	Step             *float64 `json:"step,omitempty"`
	Dynamic          *bool    `json:"dynamic,omitempty"`
	StoreTaskOutputs *bool    `json:"store_task_outputs,omitempty"`
	MaxContextLength *int     `json:"max_context_length,omitempty"`
}

// apply merges non-nil patch fields into the config.
func (p RetrievalPatch) apply(cfg *RetrievalConfig) {
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.EmbeddingModel != nil {
		cfg.EmbeddingModel = *p.EmbeddingModel
	}
	if p.EmbeddingURL != nil {
		cfg.EmbeddingURL = *p.EmbeddingURL
	}
	if p.Dimension != nil {
		cfg.Dimension = *p.Dimension
	}
	if p.IndexPath != nil {
		cfg.IndexPath = *p.IndexPath
	}
	if p.MetadataPath != nil {
		cfg.MetadataPath = *p.MetadataPath
	}
	if p.HitTarget != nil {
		cfg.HitTarget = *p.HitTarget
	}
	if p.TopK != nil {
		cfg.TopK = *p.TopK
	}
	if p.Step != nil {
		cfg.Step = *p.Step
	}
	if p.Dynamic != nil {
		cfg.Dynamic = *p.Dynamic
	}
	if p.StoreTaskOutputs != nil {
		cfg.StoreTaskOutputs = *p.StoreTaskOutputs
	}
	if p.MaxContextLength != nil {
		cfg.MaxContextLength = *p.MaxContextLength
	}
}

// clone deep-copies the document so readers never share maps with the store.
func (d Document) clone() Document {
	c := d
	c.Prompts = make(map[string]string, len(d.Prompts))
	for k, v := range d.Prompts {
		c.Prompts[k] = v
	}
	if d.LLM.Headers != nil {
		c.LLM.Headers = make(map[string]string, len(d.LLM.Headers))
		for k, v := range d.LLM.Headers {
			c.LLM.Headers[k] = v
		}
	}
	if d.LLM.TopP != nil {
		v := *d.LLM.TopP
		c.LLM.TopP = &v
	}
	if d.LLM.TopK != nil {
		v := *d.LLM.TopK
		c.LLM.TopK = &v
	}
	return c
}
