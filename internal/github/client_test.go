package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "commit-digest/internal/errors"
)

// setupTestClient creates a httptest server and a Client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", logger)
	client.SetBaseURL(server.URL)

	return client, server
}

func TestClient_ListCommits(t *testing.T) {
	t.Run("lists commits with per_page, since and branch applied", func(t *testing.T) {
		var gotPath, gotPerPage, gotSince, gotSHA string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			q := r.URL.Query()
			gotPerPage = q.Get("per_page")
			gotSince = q.Get("since")
			gotSHA = q.Get("sha")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `[
				{"sha": "a1", "html_url": "u1", "commit": {"message": "feat: one", "author": {"name": "tester", "date": "2024-01-01T12:00:00Z"}}},
				{"sha": "a2", "html_url": "u2", "commit": {"message": "fix: two", "author": {"name": "tester", "date": "2024-01-02T12:00:00Z"}}}
			]`)
		})
		client, _ := setupTestClient(t, handler)

		since := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
		commits, err := client.ListCommits(context.Background(), "test-owner", "test-repo", FetchOptions{
			PerPage: 50,
			Since:   &since,
			Branch:  "feature/x",
		})

		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(gotPath, "/repos/test-owner/test-repo/commits"), "unexpected path %q", gotPath)
		assert.Equal(t, "50", gotPerPage)
		assert.Contains(t, gotSince, "2023-12-31")
		assert.Equal(t, "feature/x", gotSHA)

		require.Len(t, commits, 2)
		assert.Equal(t, "a1", commits[0].SHA)
		assert.Equal(t, "feat: one", commits[0].Message)
		require.NotNil(t, commits[0].AuthorName)
		assert.Equal(t, "tester", *commits[0].AuthorName)
		require.NotNil(t, commits[0].AuthoredAt)
		assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), commits[0].AuthoredAt.UTC())
	})

	t.Run("clamps per_page to the API cap", func(t *testing.T) {
		var gotPerPage string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPerPage = r.URL.Query().Get("per_page")
			fmt.Fprintln(w, `[]`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.ListCommits(context.Background(), "test-owner", "test-repo", FetchOptions{PerPage: 500})

		require.NoError(t, err)
		assert.Equal(t, "100", gotPerPage)
	})

	t.Run("preserves missing author metadata as nil", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `[{"sha": "orphan", "html_url": "u", "commit": {"message": "imported"}}]`)
		})
		client, _ := setupTestClient(t, handler)

		commits, err := client.ListCommits(context.Background(), "test-owner", "test-repo", FetchOptions{PerPage: 30})

		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Nil(t, commits[0].AuthorName)
		assert.Nil(t, commits[0].AuthoredAt)
	})

	t.Run("surfaces non-success responses with status and body", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.ListCommits(context.Background(), "test-owner", "missing", FetchOptions{PerPage: 30})

		require.Error(t, err)
		var upErr *errs.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, http.StatusNotFound, upErr.Status)
		assert.Equal(t, "Not Found", upErr.Body)
	})
}

func TestClient_ListRepositories(t *testing.T) {
	t.Run("lists the authenticated user's repositories", func(t *testing.T) {
		var gotPath, gotSort string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotSort = r.URL.Query().Get("sort")
			fmt.Fprintln(w, `[
				{"id": 1, "name": "repo-a", "full_name": "test-owner/repo-a", "owner": {"login": "test-owner"}, "updated_at": "2024-02-01T00:00:00Z"}
			]`)
		})
		client, _ := setupTestClient(t, handler)

		repos, err := client.ListRepositories(context.Background(), "user-token", 30)

		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(gotPath, "/user/repos"), "unexpected path %q", gotPath)
		assert.Equal(t, "updated", gotSort)
		require.Len(t, repos, 1)
		assert.Equal(t, "test-owner/repo-a", repos[0].FullName)
		assert.Equal(t, "test-owner", repos[0].Owner)
	})

	t.Run("clamps per_page to the API cap", func(t *testing.T) {
		var gotPerPage string
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPerPage = r.URL.Query().Get("per_page")
			fmt.Fprintln(w, `[]`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.ListRepositories(context.Background(), "user-token", 500)

		require.NoError(t, err)
		assert.Equal(t, "100", gotPerPage)
	})

	t.Run("surfaces authentication failures", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"message": "Bad credentials"}`)
		})
		client, _ := setupTestClient(t, handler)

		_, err := client.ListRepositories(context.Background(), "bad-token", 30)

		require.Error(t, err)
		var upErr *errs.UpstreamError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, http.StatusUnauthorized, upErr.Status)
	})
}
