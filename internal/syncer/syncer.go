// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	errs "commit-digest/internal/errors"
	"commit-digest/internal/github"
	"commit-digest/internal/model"
	"commit-digest/internal/store"
	"commit-digest/internal/summarize"
)

const (
	// Number of repositories to sync in parallel during a sync-all run.
	concurrency = 5
)

// HostAPI is the hosting API collaborator as the orchestrator sees it.
type HostAPI interface {
	ListCommits(ctx context.Context, owner, name string, opts github.FetchOptions) ([]model.RawCommit, error)
}

// Summarizer produces a best-effort digest for a batch of commits. An empty
// string means no summary was produced; it never errors.
type Summarizer interface {
	Summarize(ctx context.Context, commits []summarize.CommitLine, cfg summarize.BackendConfig) string
}

// CredentialProvider resolves the hosting API credential for a sync. The
// single-tenant variant hands out one process-wide token regardless of user;
// multi-tenant deployments plug in their identity provider here.
type CredentialProvider interface {
	Token(ctx context.Context, userID *string) (string, error)
}

// StaticTokenProvider is the single-tenant credential variant: one token
// (possibly empty, meaning unauthenticated) for every sync.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context, userID *string) (string, error) {
	return p.token, nil
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

// Request describes one sync invocation. Token, when set, overrides the
// credential provider for this call only.
type Request struct {
	Owner  string
	Repo   string
	Branch string
	UserID *string
	Token  string
}

// Result is the terminal output of a sync: how many commits were newly
// persisted and whether a summary was attached to them.
type Result struct {
	Updated    int  `json:"updated"`
	Summarized bool `json:"summarized"`
}

// RepoResult is one repository's outcome within a sync-all run.
type RepoResult struct {
	Repo       string `json:"repo"`
	Updated    int    `json:"updated"`
	Summarized bool   `json:"summarized"`
	Error      string `json:"error,omitempty"`
}

// Syncer orchestrates one sync run: resolve repo, resolve watermark, fetch,
// upsert, summarize, attach. The fetch-and-upsert phase runs inside a single
// transaction so a failed batch leaves no partial state; summarization runs
// after commit and can only downgrade the result, never fail it.
type Syncer struct {
	dbpool      *pgxpool.Pool
	host        HostAPI
	summarizer  Summarizer
	creds       CredentialProvider
	logger      *slog.Logger
	reposToSync []RepoIdentifier
	perPage     int
}

// NewSyncer creates a Syncer. repos is the optional "owner/name" list served
// by SyncAll.
func NewSyncer(dbpool *pgxpool.Pool, host HostAPI, summarizer Summarizer, creds CredentialProvider, logger *slog.Logger, repos []string, perPage int) (*Syncer, error) {
	parsedRepos, err := parseRepoIdentifiers(repos)
	if err != nil {
		return nil, err
	}

	return &Syncer{
		dbpool:      dbpool,
		host:        host,
		summarizer:  summarizer,
		creds:       creds,
		logger:      logger,
		reposToSync: parsedRepos,
		perPage:     perPage,
	}, nil
}

// Sync runs one full synchronization for a repository.
func (s *Syncer) Sync(ctx context.Context, req Request) (Result, error) {
	if req.Owner == "" || req.Repo == "" {
		return Result{}, &errs.ConfigError{Missing: "repository owner and name"}
	}

	tx, err := s.dbpool.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback(ctx) // Rollback is a no-op once the transaction is committed.

	inserted, err := s.syncBatch(ctx, store.New(tx), req)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}

	return s.summarizeBatch(ctx, store.New(s.dbpool), req, inserted), nil
}

// SyncAll syncs every configured repository with bounded concurrency. Each
// repository's failure is recorded in its own result; one bad repo never
// stops the others.
func (s *Syncer) SyncAll(ctx context.Context) ([]RepoResult, error) {
	if len(s.reposToSync) == 0 {
		return nil, &errs.ConfigError{Missing: "REPOS_TO_SYNC"}
	}

	results := make([]RepoResult, len(s.reposToSync))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, repoID := range s.reposToSync {
		i, repoID := i, repoID
		g.Go(func() error {
			res, err := s.Sync(gctx, Request{Owner: repoID.Owner, Repo: repoID.Name})
			results[i] = RepoResult{
				Repo:       repoID.Owner + "/" + repoID.Name,
				Updated:    res.Updated,
				Summarized: res.Summarized,
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync repository", "owner", repoID.Owner, "repo", repoID.Name, "error", err)
				results[i].Error = "sync failed"
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// syncBatch performs resolve, watermark, fetch, and upsert against the given
// querier. It returns the commits this run actually inserted.
func (s *Syncer) syncBatch(ctx context.Context, q store.Querier, req Request) ([]model.Commit, error) {
	logger := s.logger.With("owner", req.Owner, "repo", req.Repo)
	logger.Info("Syncing repository")

	repo, err := q.ResolveRepository(ctx, req.Owner, req.Repo, req.UserID)
	if err != nil {
		return nil, err
	}
	logger = logger.With("repo_id", repo.ID)

	// Commit rows are shared: unique by sha across users, with user_id
	// recording the first importer. The watermark must therefore be resolved
	// over the whole repository — a per-user filter would never advance for
	// anyone but that first importer.
	since, err := q.LatestAuthoredAt(ctx, repo.ID, nil)
	if err != nil {
		return nil, err
	}
	if since != nil {
		logger.Info("Fetching commits since watermark", "watermark", since.Format(time.RFC3339))
	} else {
		logger.Info("No stored commits, fetching recent window")
	}

	token := req.Token
	if token == "" {
		token, err = s.creds.Token(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
	}

	raw, err := s.host.ListCommits(ctx, req.Owner, req.Repo, github.FetchOptions{
		Token:   token,
		PerPage: s.perPage,
		Since:   since,
		Branch:  req.Branch,
	})
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		logger.Info("No new commits found")
		return nil, nil
	}

	inserted, err := q.InsertCommits(ctx, s.toInsertParams(repo.ID, req.UserID, raw))
	if err != nil {
		return nil, err
	}
	logger.Info("Inserted commits", "fetched", len(raw), "inserted", len(inserted))

	return inserted, nil
}

// summarizeBatch runs the best-effort summarization pass over newly inserted
// commits and attaches the result. Every failure here degrades the result to
// summarized=false; the commits themselves are already durable.
func (s *Syncer) summarizeBatch(ctx context.Context, q store.Querier, req Request, inserted []model.Commit) Result {
	if len(inserted) == 0 {
		return Result{Updated: 0, Summarized: false}
	}

	lines := make([]summarize.CommitLine, len(inserted))
	shas := make([]string, len(inserted))
	for i, c := range inserted {
		lines[i] = summarize.CommitLine{SHA: c.SHA, Message: c.Message}
		shas[i] = c.SHA
	}

	summary := s.summarizer.Summarize(ctx, lines, s.backendConfig(ctx, q, req.UserID))
	if summary == "" {
		return Result{Updated: len(inserted), Summarized: false}
	}

	if _, err := q.AttachSummary(ctx, shas, summary); err != nil {
		s.logger.Error("Failed to attach summary to batch", "owner", req.Owner, "repo", req.Repo, "error", err)
		return Result{Updated: len(inserted), Summarized: false}
	}

	return Result{Updated: len(inserted), Summarized: true}
}

// backendConfig resolves the summarization settings for a run. A user with
// no saved settings, or a settings lookup failure, yields the zero config,
// which the dispatcher maps to the default local backend.
func (s *Syncer) backendConfig(ctx context.Context, q store.Querier, userID *string) summarize.BackendConfig {
	if userID == nil {
		return summarize.BackendConfig{}
	}

	settings, err := q.GetUserSettings(ctx, *userID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("Failed to load user settings, using default backend", "user_id", *userID, "error", err)
		}
		return summarize.BackendConfig{}
	}

	return summarize.BackendConfig{
		Provider: settings.LLMProvider,
		BaseURL:  settings.LLMBaseURL,
		Model:    settings.LLMModel,
		APIKey:   settings.LLMAPIKey,
	}
}

// toInsertParams converts fetched commits into upsert rows, applying the
// fallback policy for records whose upstream author block is missing: nil
// author name stays nil, and a missing authored date becomes insert-time now.
func (s *Syncer) toInsertParams(repoID int64, userID *string, raw []model.RawCommit) []store.InsertCommitParams {
	now := time.Now().UTC()
	params := make([]store.InsertCommitParams, len(raw))
	for i, rc := range raw {
		authoredAt := now
		if rc.AuthoredAt != nil {
			authoredAt = *rc.AuthoredAt
		} else {
			s.logger.Debug("Commit has no author date, using insert time", "sha", rc.SHA)
		}
		params[i] = store.InsertCommitParams{
			SHA:          rc.SHA,
			RepositoryID: repoID,
			UserID:       userID,
			Message:      rc.Message,
			AuthorName:   rc.AuthorName,
			AuthoredAt:   authoredAt,
			URL:          rc.URL,
		}
	}
	return params
}

func parseRepoIdentifiers(repos []string) ([]RepoIdentifier, error) {
	var identifiers []RepoIdentifier
	for _, r := range repos {
		parts := strings.Split(r, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, &errs.ErrInvalidRepoFormat{Repo: r}
		}
		identifiers = append(identifiers, RepoIdentifier{Owner: parts[0], Name: parts[1]})
	}
	return identifiers, nil
}
