package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/copydesk/stringer/pkg/persist"
)

// Store owns the settings document. All reads return copies; all mutations
// validate first, then persist with backup-rename replace. The store is the
// single writer for its document.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  Document
}

// NewStore creates a store persisting at path. Call Load before use.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the document from disk. A missing document is replaced with
// defaults and persisted. Known prompts absent from an older document are
// backfilled from defaults so the workflow never formats a missing template.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A sibling left by a crash mid-save holds uncommitted content.
	persist.RemoveStaleBackup(s.path)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.doc = DefaultDocument()
		if err := s.save(); err != nil {
			return err
		}
		slog.Info("Settings document created with defaults", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse settings document %s: %w", s.path, err)
	}

	defaults := DefaultDocument()
	if doc.Prompts == nil {
		doc.Prompts = map[string]string{}
	}
	for _, name := range PromptNames() {
		if _, ok := doc.Prompts[name]; !ok {
			doc.Prompts[name] = defaults.Prompts[name]
		}
	}

	s.doc = doc
	slog.Info("Settings document loaded", "path", s.path, "language", doc.Language)
	return nil
}

// Get returns a copy of the whole document.
func (s *Store) Get() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone()
}

// GetLLMConfig returns a copy of the LLM configuration.
func (s *Store) GetLLMConfig() LLMConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.clone().LLM
}

// GetRetrievalConfig returns a copy of the retrieval configuration.
func (s *Store) GetRetrievalConfig() RetrievalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Retrieval
}

// GetLanguage returns the configured language.
func (s *Store) GetLanguage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Language
}

// GetPrompt returns the named template.
func (s *Store) GetPrompt(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := requiredPromptVars[name]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, name)
	}
	return s.doc.Prompts[name], nil
}

// GetAllPrompts returns a copy of every template.
func (s *Store) GetAllPrompts() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.doc.Prompts))
	for k, v := range s.doc.Prompts {
		out[k] = v
	}
	return out
}

// UpdateLLMConfig replaces the LLM configuration after validation.
func (s *Store) UpdateLLMConfig(cfg LLMConfig) error {
	if err := validateLLMConfig(cfg); err != nil {
		return err
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{"Content-Type": "application/json"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(func(d *Document) { d.LLM = cfg })
}

// UpdateRetrievalConfig merges a partial update into the retrieval
// configuration; the merged result must validate as a whole.
func (s *Store) UpdateRetrievalConfig(patch RetrievalPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.doc.Retrieval
	patch.apply(&merged)
	if err := validateRetrievalConfig(merged); err != nil {
		return err
	}
	return s.commit(func(d *Document) { d.Retrieval = merged })
}

// UpdatePrompt replaces one template.
func (s *Store) UpdatePrompt(name, text string) error {
	if err := validatePrompt(name, text); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(func(d *Document) { d.Prompts[name] = text })
}

// UpdatePrompts replaces several templates at once. All entries are
// validated before any is applied.
func (s *Store) UpdatePrompts(prompts map[string]string) error {
	for name, text := range prompts {
		if err := validatePrompt(name, text); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(func(d *Document) {
		for name, text := range prompts {
			d.Prompts[name] = text
		}
	})
}

// SetLanguage updates the language preference.
func (s *Store) SetLanguage(lang string) error {
	if lang != LanguageEnglish && lang != LanguageFinnish {
		return NewValidationError("language", fmt.Errorf("%w: %q", ErrInvalidValue, lang))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(func(d *Document) { d.Language = lang })
}

// ResetToDefaults discards the document and persists the defaults.
func (s *Store) ResetToDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(func(d *Document) { *d = DefaultDocument() })
}

// commit applies a mutation and persists it. On a persistence failure the
// in-memory document reverts so the store and the disk never disagree.
// Caller holds the write lock.
func (s *Store) commit(mutate func(*Document)) error {
	prev := s.doc.clone()
	mutate(&s.doc)
	if err := s.save(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

// save persists the current document. Caller holds the write lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings document: %w", err)
	}
	if err := persist.WriteFile(s.path, data); err != nil {
		return fmt.Errorf("failed to persist settings document: %w", err)
	}
	return nil
}

func validateLLMConfig(cfg LLMConfig) error {
	if cfg.URL == "" {
		return NewValidationError("llm.url", ErrMissingRequiredField)
	}
	if cfg.Model == "" {
		return NewValidationError("llm.model", ErrMissingRequiredField)
	}
	if cfg.PayloadType != PayloadTypeMessage && cfg.PayloadType != PayloadTypeCompletion {
		return NewValidationError("llm.payload_type",
			fmt.Errorf("%w: %q (expected message|completion)", ErrInvalidValue, cfg.PayloadType))
	}
	if cfg.Timeout <= 0 {
		return NewValidationError("llm.timeout",
			fmt.Errorf("%w: must be a positive integer, got %d", ErrInvalidValue, cfg.Timeout))
	}
	if cfg.MaxTokens <= 0 {
		return NewValidationError("llm.max_tokens",
			fmt.Errorf("%w: must be a positive integer, got %d", ErrInvalidValue, cfg.MaxTokens))
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return NewValidationError("llm.temperature",
			fmt.Errorf("%w: must be within [0,2], got %g", ErrInvalidValue, cfg.Temperature))
	}
	return nil
}

func validateRetrievalConfig(cfg RetrievalConfig) error {
	if cfg.EmbeddingModel == "" {
		return NewValidationError("retrieval.embedding_model", ErrMissingRequiredField)
	}
	if cfg.EmbeddingURL == "" {
		return NewValidationError("retrieval.embedding_url", ErrMissingRequiredField)
	}
	if cfg.Dimension <= 0 {
		return NewValidationError("retrieval.dimension",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, cfg.Dimension))
	}
	if cfg.IndexPath == "" {
		return NewValidationError("retrieval.index_path", ErrMissingRequiredField)
	}
	if cfg.MetadataPath == "" {
		return NewValidationError("retrieval.metadata_path", ErrMissingRequiredField)
	}
	if cfg.HitTarget <= 0 {
		return NewValidationError("retrieval.hit_target",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, cfg.HitTarget))
	}
	if cfg.TopK <= 0 {
		return NewValidationError("retrieval.top_k",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, cfg.TopK))
	}
	if cfg.Step <= 0 || cfg.Step > 1 {
		return NewValidationError("retrieval.step",
			fmt.Errorf("%w: must be within (0,1], got %g", ErrInvalidValue, cfg.Step))
	}
	return nil
}
