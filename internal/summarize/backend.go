// internal/summarize/backend.go
package summarize

import "context"

// CommitLine is the slice of a commit the prompt needs.
type CommitLine struct {
	SHA     string
	Message string
}

// BackendConfig selects and parameterizes a summarization backend. Provider
// is "openai" for the hosted API-key service; anything else resolves to the
// local inference service. BaseURL and Model override the provider defaults
// when non-empty.
type BackendConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

// Backend is a single summarization service: one prompt in, one completion
// out. Implementations return an error on any transport, status, or parse
// failure; the dispatcher decides what to do with it.
type Backend interface {
	Name() string
	Summarize(ctx context.Context, prompt string) (string, error)
}
