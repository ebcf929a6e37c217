// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"commit-digest/internal/model"
)

// DBTX is the subset of pgx behaviour the store needs. Both *pgxpool.Pool
// and pgx.Tx satisfy it, so the same queries run pooled or inside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier is the persistence interface consumed by the syncer and the API
// layer. Mocked in tests.
type Querier interface {
	ResolveRepository(ctx context.Context, owner, name string, userID *string) (model.Repository, error)
	GetRepositoryByFullName(ctx context.Context, fullName string) (model.Repository, error)
	LatestAuthoredAt(ctx context.Context, repositoryID int64, userID *string) (*time.Time, error)
	InsertCommits(ctx context.Context, params []InsertCommitParams) ([]model.Commit, error)
	AttachSummary(ctx context.Context, shas []string, summary string) (int64, error)
	ListCommitsByRepo(ctx context.Context, repositoryID int64, limit int32) ([]model.Commit, error)
	GetUserSettings(ctx context.Context, userID string) (model.UserSettings, error)
	UpsertUserSettings(ctx context.Context, settings model.UserSettings) (model.UserSettings, error)
}

// Store runs the application's SQL against a DBTX.
type Store struct {
	db DBTX
}

// New creates a Store bound to the given pool or transaction.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// InsertCommitParams is one row of a commit upsert batch.
type InsertCommitParams struct {
	SHA          string
	RepositoryID int64
	UserID       *string
	Message      string
	AuthorName   *string
	AuthoredAt   time.Time
	URL          string
}

const getRepositoryByFullName = `
SELECT id, owner, name, full_name, url, user_id, created_at
FROM repositories
WHERE full_name = $1
`

const createRepository = `
INSERT INTO repositories (owner, name, full_name, url, user_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (full_name) DO NOTHING
RETURNING id, owner, name, full_name, url, user_id, created_at
`

// ResolveRepository returns the repository row for owner/name, creating it on
// first sight with a derived canonical URL. A concurrent create is detected
// through the full_name constraint and resolved by re-fetching the winner's
// row.
func (s *Store) ResolveRepository(ctx context.Context, owner, name string, userID *string) (model.Repository, error) {
	fullName := owner + "/" + name

	repo, err := s.GetRepositoryByFullName(ctx, fullName)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, err
	}

	url := "https://github.com/" + fullName
	row := s.db.QueryRow(ctx, createRepository, owner, name, fullName, url, userID)
	repo, err = scanRepository(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race: someone else inserted between our select and insert.
		return s.GetRepositoryByFullName(ctx, fullName)
	}
	return repo, err
}

// GetRepositoryByFullName looks up a repository by its "owner/name" key.
// Returns pgx.ErrNoRows when it is not tracked.
func (s *Store) GetRepositoryByFullName(ctx context.Context, fullName string) (model.Repository, error) {
	return scanRepository(s.db.QueryRow(ctx, getRepositoryByFullName, fullName))
}

const latestAuthoredAt = `
SELECT MAX(authored_at)
FROM commits
WHERE repository_id = $1
  AND ($2::text IS NULL OR user_id = $2)
`

// LatestAuthoredAt returns the watermark for a repository: the maximum
// authored timestamp among its stored commits, or nil when none are stored
// yet. The optional user filter scopes the watermark in multi-tenant
// deployments.
func (s *Store) LatestAuthoredAt(ctx context.Context, repositoryID int64, userID *string) (*time.Time, error) {
	var ts *time.Time
	if err := s.db.QueryRow(ctx, latestAuthoredAt, repositoryID, userID).Scan(&ts); err != nil {
		return nil, err
	}
	return ts, nil
}

const insertCommit = `
INSERT INTO commits (sha, repository_id, user_id, message, author_name, authored_at, url)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (sha) DO NOTHING
RETURNING sha, repository_id, user_id, message, author_name, authored_at, committed_at, url, summary, created_at
`

// InsertCommits persists a batch of fetched commits keyed by content hash and
// returns only the rows this call actually inserted; hashes already present
// are left untouched and excluded from the result. Callers wanting
// all-or-nothing semantics run this inside a transaction.
func (s *Store) InsertCommits(ctx context.Context, params []InsertCommitParams) ([]model.Commit, error) {
	inserted := make([]model.Commit, 0, len(params))
	for _, p := range params {
		row := s.db.QueryRow(ctx, insertCommit,
			p.SHA, p.RepositoryID, p.UserID, p.Message, p.AuthorName, p.AuthoredAt, p.URL)
		c, err := scanCommit(row)
		if errors.Is(err, pgx.ErrNoRows) {
			// Known hash: re-ingestion is a no-op.
			continue
		}
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, c)
	}
	return inserted, nil
}

const attachSummary = `
UPDATE commits
SET summary = $1
WHERE sha = ANY($2)
`

// AttachSummary sets the generated summary on every commit in the batch and
// reports how many rows were updated.
func (s *Store) AttachSummary(ctx context.Context, shas []string, summary string) (int64, error) {
	tag, err := s.db.Exec(ctx, attachSummary, summary, shas)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listCommitsByRepo = `
SELECT sha, repository_id, user_id, message, author_name, authored_at, committed_at, url, summary, created_at
FROM commits
WHERE repository_id = $1
ORDER BY authored_at DESC
LIMIT $2
`

// ListCommitsByRepo returns stored commits for a repository, newest first.
func (s *Store) ListCommitsByRepo(ctx context.Context, repositoryID int64, limit int32) ([]model.Commit, error) {
	rows, err := s.db.Query(ctx, listCommitsByRepo, repositoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

const getUserSettings = `
SELECT user_id, llm_provider, llm_base_url, llm_model, llm_api_key, updated_at
FROM user_settings
WHERE user_id = $1
`

// GetUserSettings returns a user's summarization settings, or pgx.ErrNoRows
// when the user has never saved any.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (model.UserSettings, error) {
	var us model.UserSettings
	err := s.db.QueryRow(ctx, getUserSettings, userID).Scan(
		&us.UserID, &us.LLMProvider, &us.LLMBaseURL, &us.LLMModel, &us.LLMAPIKey, &us.UpdatedAt)
	return us, err
}

const upsertUserSettings = `
INSERT INTO user_settings (user_id, llm_provider, llm_base_url, llm_model, llm_api_key, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (user_id) DO UPDATE
SET llm_provider = EXCLUDED.llm_provider,
    llm_base_url = EXCLUDED.llm_base_url,
    llm_model = EXCLUDED.llm_model,
    llm_api_key = EXCLUDED.llm_api_key,
    updated_at = now()
RETURNING user_id, llm_provider, llm_base_url, llm_model, llm_api_key, updated_at
`

// UpsertUserSettings creates or replaces a user's summarization settings.
func (s *Store) UpsertUserSettings(ctx context.Context, settings model.UserSettings) (model.UserSettings, error) {
	var us model.UserSettings
	err := s.db.QueryRow(ctx, upsertUserSettings,
		settings.UserID, settings.LLMProvider, settings.LLMBaseURL, settings.LLMModel, settings.LLMAPIKey).Scan(
		&us.UserID, &us.LLMProvider, &us.LLMBaseURL, &us.LLMModel, &us.LLMAPIKey, &us.UpdatedAt)
	return us, err
}

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.FullName, &r.URL, &r.UserID, &r.CreatedAt)
	return r, err
}

func scanCommit(row pgx.Row) (model.Commit, error) {
	var c model.Commit
	err := row.Scan(&c.SHA, &c.RepositoryID, &c.UserID, &c.Message, &c.AuthorName,
		&c.AuthoredAt, &c.CommittedAt, &c.URL, &c.Summary, &c.CreatedAt)
	return c, err
}
