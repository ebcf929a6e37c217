// internal/summarize/dispatcher.go
package summarize

import (
	"context"
	"log/slog"
	"net/http"
)

// Dispatcher selects a summarization backend per batch and shields callers
// from every backend failure: its Summarize never returns an error, only a
// best-effort summary or the empty string.
type Dispatcher struct {
	logger             *slog.Logger
	client             *http.Client
	defaultOllamaHost  string
	defaultOllamaModel string
}

// NewDispatcher creates a Dispatcher. The Ollama host and model are the
// process-wide defaults used when a batch carries no overrides.
func NewDispatcher(logger *slog.Logger, ollamaHost, ollamaModel string) *Dispatcher {
	return &Dispatcher{
		logger:             logger,
		client:             http.DefaultClient,
		defaultOllamaHost:  ollamaHost,
		defaultOllamaModel: ollamaModel,
	}
}

// Summarize formats one prompt covering the whole batch and runs it against
// the selected backend. Any failure is logged and converted to an empty
// string; summarization must never fail the enclosing sync.
func (d *Dispatcher) Summarize(ctx context.Context, commits []CommitLine, cfg BackendConfig) string {
	if len(commits) == 0 {
		return ""
	}

	backend := d.selectBackend(cfg)
	prompt := buildPrompt(commits)

	summary, err := backend.Summarize(ctx, prompt)
	if err != nil {
		d.logger.Warn("Summarization failed, continuing without summary",
			"backend", backend.Name(), "commits", len(commits), "error", err)
		return ""
	}
	return summary
}

// selectBackend applies the selection policy: the hosted backend when the
// configuration names it AND a key is present, the local inference backend
// otherwise. A hosted provider with no key silently falls back rather than
// erroring out.
func (d *Dispatcher) selectBackend(cfg BackendConfig) Backend {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		return NewOpenAIBackend(cfg.BaseURL, cfg.Model, cfg.APIKey, d.client)
	}

	host := d.defaultOllamaHost
	model := d.defaultOllamaModel
	if cfg.Provider == "ollama" {
		if cfg.BaseURL != "" {
			host = cfg.BaseURL
		}
		if cfg.Model != "" {
			model = cfg.Model
		}
	}
	return NewOllamaBackend(host, model, d.client)
}
