package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestBuildPrompt(t *testing.T) {
	commits := []CommitLine{
		{SHA: "a1b2c3d4e5f6a7b8", Message: "feat: add login page"},
		{SHA: "short", Message: "fix: typo"},
	}

	prompt := buildPrompt(commits)

	assert.Contains(t, prompt, "daily standup")
	assert.Contains(t, prompt, "- [a1b2c3d] feat: add login page")
	assert.Contains(t, prompt, "- [short] fix: typo")
	// Deterministic: same input, same prompt.
	assert.Equal(t, prompt, buildPrompt(commits))
}

func TestDispatcher_Summarize_Ollama(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprintln(w, `{"message": {"role": "assistant", "content": "- did things\n"}, "done": true}`)
	}))
	defer server.Close()

	d := NewDispatcher(testLogger(), server.URL, "llama3.2")
	summary := d.Summarize(context.Background(), []CommitLine{{SHA: "abcdef1234", Message: "feat: thing"}}, BackendConfig{})

	assert.Equal(t, "- did things", summary)
	assert.Equal(t, "llama3.2", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])

	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Contains(t, msg["content"], "- [abcdef1] feat: thing")
}

func TestDispatcher_Summarize_HostedBackend(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprintln(w, `{"choices": [{"message": {"role": "assistant", "content": "hosted summary"}}]}`)
	}))
	defer server.Close()

	d := NewDispatcher(testLogger(), "http://localhost:11434", "llama3.2")
	cfg := BackendConfig{Provider: "openai", BaseURL: server.URL + "/", Model: "gpt-4o-mini", APIKey: "sk-test"}
	summary := d.Summarize(context.Background(), []CommitLine{{SHA: "abc", Message: "fix"}}, cfg)

	assert.Equal(t, "hosted summary", summary)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestDispatcher_Summarize_MissingKeyFallsBackToLocal(t *testing.T) {
	var ollamaHits int32
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ollamaHits, 1)
		assert.Equal(t, "/api/chat", r.URL.Path)
		fmt.Fprintln(w, `{"message": {"content": "local summary"}}`)
	}))
	defer ollama.Close()

	d := NewDispatcher(testLogger(), ollama.URL, "llama3.2")
	// Hosted provider selected but no key present: must fall back, not error.
	cfg := BackendConfig{Provider: "openai", Model: "gpt-4o-mini"}
	summary := d.Summarize(context.Background(), []CommitLine{{SHA: "abc", Message: "fix"}}, cfg)

	assert.Equal(t, "local summary", summary)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ollamaHits))
}

func TestDispatcher_Summarize_FailureReturnsEmpty(t *testing.T) {
	t.Run("backend returns server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		defer server.Close()

		d := NewDispatcher(testLogger(), server.URL, "llama3.2")
		summary := d.Summarize(context.Background(), []CommitLine{{SHA: "abc", Message: "fix"}}, BackendConfig{})
		assert.Empty(t, summary)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // Nothing listening anymore.

		d := NewDispatcher(testLogger(), server.URL, "llama3.2")
		summary := d.Summarize(context.Background(), []CommitLine{{SHA: "abc", Message: "fix"}}, BackendConfig{})
		assert.Empty(t, summary)
	})

	t.Run("backend returns malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `not json at all`)
		}))
		defer server.Close()

		d := NewDispatcher(testLogger(), server.URL, "llama3.2")
		summary := d.Summarize(context.Background(), []CommitLine{{SHA: "abc", Message: "fix"}}, BackendConfig{})
		assert.Empty(t, summary)
	})
}

func TestDispatcher_Summarize_EmptyBatch(t *testing.T) {
	d := NewDispatcher(testLogger(), "http://localhost:11434", "llama3.2")
	assert.Empty(t, d.Summarize(context.Background(), nil, BackendConfig{}))
}

func TestOpenAIBackend_MissingKey(t *testing.T) {
	b := NewOpenAIBackend("", "", "", nil)
	_, err := b.Summarize(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestOpenAIBackend_Defaults(t *testing.T) {
	b := NewOpenAIBackend("", "", "sk-test", nil)
	assert.Equal(t, "https://api.openai.com/v1", b.baseURL)
	assert.Equal(t, "gpt-4o-mini", b.model)

	b = NewOpenAIBackend("https://proxy.example.com/v1/", "custom-model", "sk-test", nil)
	assert.False(t, strings.HasSuffix(b.baseURL, "/"))
	assert.Equal(t, "custom-model", b.model)
}

func TestDispatcher_SelectBackend_OllamaOverrides(t *testing.T) {
	d := NewDispatcher(testLogger(), "http://default:11434", "llama3.2")

	b := d.selectBackend(BackendConfig{Provider: "ollama", BaseURL: "http://custom:11434", Model: "mistral"})
	ollama, ok := b.(*OllamaBackend)
	require.True(t, ok)
	assert.Equal(t, "http://custom:11434", ollama.baseURL)
	assert.Equal(t, "mistral", ollama.model)

	// Falling back from a keyless hosted provider uses the defaults, not the
	// hosted base URL.
	b = d.selectBackend(BackendConfig{Provider: "openai", BaseURL: "https://api.openai.com/v1"})
	ollama, ok = b.(*OllamaBackend)
	require.True(t, ok)
	assert.Equal(t, "http://default:11434", ollama.baseURL)
}
