// internal/github/client.go
package github

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	errs "commit-digest/internal/errors"
	"commit-digest/internal/model"
)

// maxPerPage is the hosting API's hard cap on commit listings.
const maxPerPage = 100

// Client is a wrapper around the go-github client. A zero token means
// unauthenticated requests; per-call tokens override the default, which is
// how multi-tenant deployments hand each user's credential to the fetcher.
type Client struct {
	defaultToken string
	baseURL      string
	logger       *slog.Logger
}

// NewClient creates a Client with an optional process-wide default token.
func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		defaultToken: token,
		logger:       logger,
	}
}

// SetBaseURL points the client at an alternate API host. Used by tests.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// FetchOptions bound a single commit-listing call.
type FetchOptions struct {
	// Token overrides the client's default credential when non-empty.
	Token string
	// PerPage caps the number of commits returned; clamped to 100.
	PerPage int
	// Since, when set, restricts the listing to commits authored after it.
	Since *time.Time
	// Branch scopes the listing to a ref; empty means the default branch.
	Branch string
}

// ListCommits lists commits for a repository, newest first. It issues a
// single page request: PerPage is a hard cap per call, and callers rely on
// the advancing watermark to pick up any remainder on the next sync.
func (c *Client) ListCommits(ctx context.Context, owner, name string, opts FetchOptions) ([]model.RawCommit, error) {
	perPage := opts.PerPage
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}

	ghOpts := &github.CommitsListOptions{
		SHA:         opts.Branch,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if opts.Since != nil {
		ghOpts.Since = *opts.Since
	}

	c.logger.Debug("Listing commits", "owner", owner, "repo", name, "per_page", perPage, "branch", opts.Branch)

	commits, _, err := c.api(opts.Token).Repositories.ListCommits(ctx, owner, name, ghOpts)
	if err != nil {
		return nil, toUpstreamError(err)
	}

	raw := make([]model.RawCommit, len(commits))
	for i, commit := range commits {
		raw[i] = toRawCommit(commit)
	}
	return raw, nil
}

// ListRepositories lists the authenticated user's repositories, most recently
// updated first.
func (c *Client) ListRepositories(ctx context.Context, token string, perPage int) ([]model.RemoteRepository, error) {
	if perPage <= 0 {
		perPage = 30
	} else if perPage > maxPerPage {
		perPage = maxPerPage
	}

	ghOpts := &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	repos, _, err := c.api(token).Repositories.ListByAuthenticatedUser(ctx, ghOpts)
	if err != nil {
		return nil, toUpstreamError(err)
	}

	out := make([]model.RemoteRepository, len(repos))
	for i, r := range repos {
		out[i] = model.RemoteRepository{
			ID:        r.GetID(),
			Name:      r.GetName(),
			FullName:  r.GetFullName(),
			Owner:     r.GetOwner().GetLogin(),
			UpdatedAt: r.GetUpdatedAt().Time,
		}
	}
	return out, nil
}

// api builds a go-github client for one call, bound to the effective token.
func (c *Client) api(token string) *github.Client {
	if token == "" {
		token = c.defaultToken
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	gh := github.NewClient(httpClient)
	if c.baseURL != "" {
		if enterprise, err := gh.WithEnterpriseURLs(c.baseURL, c.baseURL); err == nil {
			gh = enterprise
		}
	}
	return gh
}

// toUpstreamError translates a non-success hosting API response into an
// UpstreamError carrying the status and body for diagnostics. Transport
// failures pass through unchanged.
func toUpstreamError(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return &errs.UpstreamError{
			Status: ghErr.Response.StatusCode,
			Body:   ghErr.Message,
		}
	}
	var rlErr *github.RateLimitError
	if errors.As(err, &rlErr) && rlErr.Response != nil {
		return &errs.UpstreamError{
			Status: rlErr.Response.StatusCode,
			Body:   rlErr.Message,
		}
	}
	return err
}

// toRawCommit translates a hosting API commit into the internal shape,
// preserving the absence of author metadata so the upsert engine can apply
// its fallback policy.
func toRawCommit(rc *github.RepositoryCommit) model.RawCommit {
	raw := model.RawCommit{
		SHA:     rc.GetSHA(),
		Message: rc.GetCommit().GetMessage(),
		URL:     rc.GetHTMLURL(),
	}
	if author := rc.GetCommit().GetAuthor(); author != nil {
		raw.AuthorName = author.Name
		if author.Date != nil {
			t := author.Date.Time
			raw.AuthoredAt = &t
		}
	}
	return raw
}
