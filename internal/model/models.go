// internal/model/models.go
package model

import "time"

// Repository is a tracked source repository. FullName ("owner/name") is the
// natural key; creation is lazy and idempotent.
type Repository struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	URL       string    `json:"url"`
	UserID    *string   `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Commit is a stored commit. SHA is globally unique; message and author are
// immutable after insert. Summary is the only field mutated post-creation,
// at most once per summarization pass.
type Commit struct {
	SHA          string     `json:"sha"`
	RepositoryID int64      `json:"repository_id"`
	UserID       *string    `json:"user_id,omitempty"`
	Message      string     `json:"message"`
	AuthorName   *string    `json:"author_name"`
	AuthoredAt   time.Time  `json:"authored_at"`
	CommittedAt  *time.Time `json:"committed_at"`
	URL          string     `json:"url"`
	Summary      *string    `json:"summary"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RawCommit is a commit as listed by the hosting API, before persistence.
// AuthorName and AuthoredAt are nil when the upstream record has no author
// block.
type RawCommit struct {
	SHA        string
	Message    string
	AuthorName *string
	AuthoredAt *time.Time
	URL        string
}

// UserSettings holds a user's summarization preferences. The sync pipeline
// only ever reads these.
type UserSettings struct {
	UserID      string    `json:"user_id"`
	LLMProvider string    `json:"llm_provider"`
	LLMBaseURL  string    `json:"llm_base_url"`
	LLMModel    string    `json:"llm_model"`
	LLMAPIKey   string    `json:"llm_api_key,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RemoteRepository is a repository listing entry from the hosting API,
// returned by the passthrough endpoint.
type RemoteRepository struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	Owner     string    `json:"owner"`
	UpdatedAt time.Time `json:"updated_at"`
}
