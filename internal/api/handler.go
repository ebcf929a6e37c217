// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	ghwebhook "github.com/go-playground/webhooks/v6/github"
	"github.com/jackc/pgx/v5"

	errs "commit-digest/internal/errors"
	"commit-digest/internal/model"
	"commit-digest/internal/store"
	"commit-digest/internal/syncer"
)

// SyncService is the orchestrator surface the HTTP layer triggers.
type SyncService interface {
	Sync(ctx context.Context, req syncer.Request) (syncer.Result, error)
	SyncAll(ctx context.Context) ([]syncer.RepoResult, error)
}

// HostLister is the hosting API surface for the repository passthrough.
type HostLister interface {
	ListRepositories(ctx context.Context, token string, perPage int) ([]model.RemoteRepository, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db           store.Querier
	sync         SyncService
	host         HostLister
	logger       *slog.Logger
	defaultOwner string
	defaultName  string
	defaultToken string
}

// NewRouter creates and configures a new chi router with all API routes.
// Authentication is external: the service trusts the X-User-ID and
// X-GitHub-Token headers placed by the fronting identity layer.
func NewRouter(db store.Querier, sync SyncService, host HostLister, logger *slog.Logger, defaultOwner, defaultName, defaultToken string) http.Handler {
	h := &Handler{
		db:           db,
		sync:         sync,
		host:         host,
		logger:       logger,
		defaultOwner: defaultOwner,
		defaultName:  defaultName,
		defaultToken: defaultToken,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync", h.triggerSync)
		r.Post("/sync/all", h.triggerSyncAll)
		r.Post("/webhooks/github", h.handlePushWebhook)
		r.Get("/repos/{owner}/{name}/commits", h.getCommits)
		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.putSettings)
		r.Get("/github/repos", h.listRemoteRepos)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type syncRequestBody struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

// triggerSync handles a manual sync request.
// POST /v1/sync — empty body falls back to the configured default repository.
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	var body syncRequestBody
	if r.Body != nil {
		// An empty or absent body is fine; it means "use the default repo".
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	// A half-specified body is a caller mistake, not a cue to silently sync
	// the default repository.
	if (body.Owner == "") != (body.Repo == "") {
		respondWithError(w, http.StatusBadRequest, "Both 'owner' and 'repo' must be provided")
		return
	}
	if body.Owner == "" && body.Repo == "" {
		body.Owner = h.defaultOwner
		body.Repo = h.defaultName
	}

	req := syncer.Request{
		Owner:  body.Owner,
		Repo:   body.Repo,
		Branch: body.Branch,
		UserID: userIDFromHeader(r),
		Token:  r.Header.Get("X-GitHub-Token"),
	}

	result, err := h.sync.Sync(r.Context(), req)
	if err != nil {
		h.respondSyncError(w, err, body.Owner+"/"+body.Repo)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// triggerSyncAll syncs every configured repository.
// POST /v1/sync/all
func (h *Handler) triggerSyncAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.sync.SyncAll(r.Context())
	if err != nil {
		h.respondSyncError(w, err, "all")
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}

// handlePushWebhook processes a push event and syncs the pushed branch.
// POST /v1/webhooks/github
func (h *Handler) handlePushWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := ghwebhook.New()
	if err != nil {
		h.logger.Error("Failed to construct webhook parser", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	payload, err := hook.Parse(r, ghwebhook.PushEvent)
	if err != nil {
		if errors.Is(err, ghwebhook.ErrEventNotFound) {
			respondWithJSON(w, http.StatusOK, map[string]string{"message": "Ignored non-push event."})
			return
		}
		respondWithError(w, http.StatusBadRequest, "Malformed webhook payload")
		return
	}

	push, ok := payload.(ghwebhook.PushPayload)
	if !ok || push.Repository.FullName == "" {
		respondWithError(w, http.StatusBadRequest, "Missing repository info")
		return
	}

	repo, err := h.db.GetRepositoryByFullName(r.Context(), push.Repository.FullName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not tracked")
			return
		}
		h.logger.Error("Failed to look up repository", "full_name", push.Repository.FullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	result, err := h.sync.Sync(r.Context(), syncer.Request{
		Owner:  repo.Owner,
		Repo:   repo.Name,
		Branch: branchFromRef(push.Ref),
		UserID: repo.UserID,
	})
	if err != nil {
		h.respondSyncError(w, err, push.Repository.FullName)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"message": "Webhook processed successfully",
		"synced":  result.Updated,
	})
}

// getCommits handles the request to retrieve stored commits for a repository.
// GET /v1/repos/{owner}/{name}/commits?limit=N
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	name := chi.URLParam(r, "name")

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "50"
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 200 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 200.")
		return
	}

	repo, err := h.db.GetRepositoryByFullName(r.Context(), owner+"/"+name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	commits, err := h.db.ListCommitsByRepo(r.Context(), repo.ID, int32(limit))
	if err != nil {
		h.logger.Error("Failed to get commits", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, commits)
}

// getSettings returns the caller's summarization settings.
// GET /v1/settings
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	settings, err := h.db.GetUserSettings(r.Context(), *userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithJSON(w, http.StatusOK, model.UserSettings{UserID: *userID})
			return
		}
		h.logger.Error("Failed to get user settings", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Never echo the stored key back out.
	settings.LLMAPIKey = ""
	respondWithJSON(w, http.StatusOK, settings)
}

type settingsRequestBody struct {
	LLMProvider string `json:"llm_provider"`
	LLMBaseURL  string `json:"llm_base_url"`
	LLMModel    string `json:"llm_model"`
	LLMAPIKey   string `json:"llm_api_key"`
}

// putSettings creates or replaces the caller's summarization settings.
// PUT /v1/settings
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromHeader(r)
	if userID == nil {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body settingsRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	settings, err := h.db.UpsertUserSettings(r.Context(), model.UserSettings{
		UserID:      *userID,
		LLMProvider: body.LLMProvider,
		LLMBaseURL:  body.LLMBaseURL,
		LLMModel:    body.LLMModel,
		LLMAPIKey:   body.LLMAPIKey,
	})
	if err != nil {
		h.logger.Error("Failed to save user settings", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	settings.LLMAPIKey = ""
	respondWithJSON(w, http.StatusOK, settings)
}

// listRemoteRepos proxies the hosting API's repository listing for the
// caller's token.
// GET /v1/github/repos?per_page=N
func (h *Handler) listRemoteRepos(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-GitHub-Token")
	if token == "" {
		token = h.defaultToken
	}
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, "No hosting API token available")
		return
	}

	perPage := 30
	if v := r.URL.Query().Get("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			perPage = n
		}
	}

	repos, err := h.host.ListRepositories(r.Context(), token, perPage)
	if err != nil {
		var upErr *errs.UpstreamError
		if errors.As(err, &upErr) {
			respondWithError(w, upErr.Status, "Hosting API error")
			return
		}
		h.logger.Error("Failed to list remote repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, repos)
}

// respondSyncError maps the sync error taxonomy onto HTTP: configuration
// errors are the caller's to fix, everything else is a generic failure with
// the detail kept in the logs.
func (h *Handler) respondSyncError(w http.ResponseWriter, err error, repo string) {
	var cfgErr *errs.ConfigError
	if errors.As(err, &cfgErr) {
		respondWithError(w, http.StatusBadRequest, cfgErr.Error())
		return
	}
	h.logger.Error("Sync failed", "repo", repo, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Failed to sync commits")
}

// branchFromRef derives the branch name from a push ref, defaulting to main
// when the ref is absent or not a branch ref.
func branchFromRef(ref string) string {
	if strings.HasPrefix(ref, "refs/heads/") {
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	return "main"
}

func userIDFromHeader(r *http.Request) *string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return &v
	}
	return nil
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
