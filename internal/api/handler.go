// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github-integration-service/internal/auth"
	apperrors "github-integration-service/internal/errors"
	"github-integration-service/internal/github"
	"github-integration-service/internal/model"
	"github-integration-service/internal/store"
)

const (
	// Server-side execution caps for read queries.
	listQueryTimeout    = 5 * time.Second
	globalSearchTimeout = 3 * time.Second
)

// Store is the persistence surface the API reads and mutates.
type Store interface {
	GetIntegration(ctx context.Context, id int64) (*model.Integration, error)
	FindActiveIntegrationsByUser(ctx context.Context, userID string) ([]model.Integration, error)
	UpsertIntegration(ctx context.Context, in *model.Integration) (*model.Integration, error)
	CountsByIntegration(ctx context.Context, id int64) (map[string]int64, error)
	RemoveIntegration(ctx context.Context, id int64) (map[string]int64, error)
	ClearIntegrationData(ctx context.Context, id int64) (map[string]int64, error)
	QueryCollection(ctx context.Context, kind store.Kind, p store.QueryParams) (*store.QueryResult, error)
}

// SyncRunner runs one full synchronization pass for an integration.
type SyncRunner interface {
	Sync(ctx context.Context, integrationID int64) (*model.SyncStats, error)
}

// UserFetcher resolves the profile behind an access token.
type UserFetcher interface {
	GetAuthenticatedUser(ctx context.Context) (*github.AuthenticatedUser, error)
}

// ClientFactory builds a UserFetcher for a freshly exchanged token.
type ClientFactory func(token string) UserFetcher

// Handler is the container for API dependencies.
type Handler struct {
	db          Store
	syncer      SyncRunner
	oauth       *auth.OAuth
	newClient   ClientFactory
	frontendURL string
	logger      *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db Store, syncer SyncRunner, oauth *auth.OAuth, newClient ClientFactory, frontendURL string, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:          db,
		syncer:      syncer,
		oauth:       oauth,
		newClient:   newClient,
		frontendURL: frontendURL,
		logger:      logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/github", h.getAuthURL)
			r.Get("/github/callback", h.handleCallback)
			r.Post("/github/callback", h.handleCallback)
			r.Get("/status", h.getIntegrationStatus)
		})

		r.Post("/github/sync/{integrationID}", h.syncIntegration)

		r.Route("/integrations/{integrationID}", func(r chi.Router) {
			r.Get("/", h.getIntegrationDetails)
			r.Delete("/", h.removeIntegration)
			r.Post("/resync", h.resyncIntegration)
		})

		r.Route("/data", func(r chi.Router) {
			r.Get("/collections", h.getCollections)
			r.Post("/search", h.globalSearch)
			r.Get("/{collection}", h.getCollectionData)
			r.Get("/{collection}/fields", h.getCollectionFields)
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getAuthURL returns the GitHub authorization page URL.
// GET /api/auth/github
func (h *Handler) getAuthURL(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"authUrl": h.oauth.AuthURL(uuid.NewString()),
	})
}

// handleCallback finishes the OAuth flow: it exchanges the code, resolves the
// token's owner, and creates or refreshes the integration keyed by
// (userId, provider).
// GET|POST /api/auth/github/callback
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" && r.Method == http.MethodPost {
		var body struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			code = body.Code
		}
	}
	if code == "" {
		respondWithError(w, http.StatusBadRequest, "Authorization code is required")
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		h.callbackError(w, r, err)
		return
	}

	ghUser, err := h.newClient(token.AccessToken).GetAuthenticatedUser(r.Context())
	if err != nil {
		h.callbackError(w, r, err)
		return
	}

	in := &model.Integration{
		UserID:          strconv.FormatInt(ghUser.ID, 10),
		Provider:        "github",
		AccessToken:     token.AccessToken,
		Status:          model.StatusActive,
		ConnectedAt:     time.Now().UTC(),
		GithubUserID:    ghUser.ID,
		GithubLogin:     ghUser.Login,
		GithubName:      ghUser.Name,
		GithubEmail:     ghUser.Email,
		GithubAvatarURL: ghUser.AvatarURL,
		GithubHTMLURL:   ghUser.HTMLURL,
	}
	if token.RefreshToken != "" {
		in.RefreshToken = &token.RefreshToken
	}
	if token.TokenType != "" {
		in.TokenType = &token.TokenType
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		in.Scope = &scope
	}

	saved, err := h.db.UpsertIntegration(r.Context(), in)
	if err != nil {
		h.callbackError(w, r, err)
		return
	}

	if r.Method == http.MethodPost {
		respondWithJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"message":     "Integration connected successfully",
			"integration": saved,
		})
		return
	}
	redirect := fmt.Sprintf("%s/auth/success?userId=%s&integrationId=%d", h.frontendURL, saved.UserID, saved.ID)
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) callbackError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("OAuth callback failed", "error", err)
	if r.Method == http.MethodPost {
		respondWithError(w, http.StatusInternalServerError, "Failed to handle callback")
		return
	}
	http.Redirect(w, r, h.frontendURL+"/auth/error", http.StatusFound)
}

// getIntegrationStatus reports whether a user has an active integration.
// GET /api/auth/status?userId=...
func (h *Handler) getIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondWithError(w, http.StatusBadRequest, "userId is required")
		return
	}

	integrations, err := h.db.FindActiveIntegrationsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to look up integrations", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(integrations) == 0 {
		respondWithJSON(w, http.StatusOK, map[string]any{"connected": false, "integration": nil})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"connected":   true,
		"integration": integrations[0],
	})
}

// syncIntegration runs a full sync pass and reports per-kind counts. The
// caller waits for completion; partial stage failures still produce a
// success response with lower counts.
// POST /api/github/sync/{integrationID}
func (h *Handler) syncIntegration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.integrationID(w, r)
	if !ok {
		return
	}

	stats, err := h.syncer.Sync(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrIntegrationNotFound) {
			respondWithError(w, http.StatusNotFound, "Integration not found")
			return
		}
		if errors.Is(err, apperrors.ErrIntegrationInactive) {
			respondWithError(w, http.StatusBadRequest, "Integration is not active")
			return
		}
		h.logger.Error("Sync run failed", "integration_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to sync GitHub data")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "GitHub data synced successfully",
		"stats":   stats,
	})
}

// getIntegrationDetails returns the integration (without credentials) plus
// per-collection document counts.
// GET /api/integrations/{integrationID}
func (h *Handler) getIntegrationDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := h.integrationID(w, r)
	if !ok {
		return
	}

	integration, err := h.db.GetIntegration(r.Context(), id)
	if err != nil {
		h.integrationError(w, id, err)
		return
	}

	counts, err := h.db.CountsByIntegration(r.Context(), id)
	if err != nil {
		h.integrationError(w, id, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"integration": integration,
		"dataCounts":  counts,
		"total":       total,
	})
}

// removeIntegration deletes an integration and every entity it owns, in one
// transaction.
// DELETE /api/integrations/{integrationID}
func (h *Handler) removeIntegration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.integrationID(w, r)
	if !ok {
		return
	}

	deleted, err := h.db.RemoveIntegration(r.Context(), id)
	if err != nil {
		h.integrationError(w, id, err)
		return
	}
	var total int64
	for _, n := range deleted {
		total += n
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"message":            "Integration and all related data removed successfully",
		"deletedDocuments":   total,
		"deletedCollections": deleted,
	})
}

// resyncIntegration clears all synced data for an active integration so the
// next sync starts fresh. The integration itself survives.
// POST /api/integrations/{integrationID}/resync
func (h *Handler) resyncIntegration(w http.ResponseWriter, r *http.Request) {
	id, ok := h.integrationID(w, r)
	if !ok {
		return
	}

	integration, err := h.db.GetIntegration(r.Context(), id)
	if err != nil {
		h.integrationError(w, id, err)
		return
	}
	if integration.Status != model.StatusActive {
		respondWithError(w, http.StatusBadRequest, "Integration is not active")
		return
	}

	cleared, err := h.db.ClearIntegrationData(r.Context(), id)
	if err != nil {
		h.integrationError(w, id, err)
		return
	}
	var total int64
	for _, n := range cleared {
		total += n
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"message":            "All synced data cleared. Ready for fresh sync.",
		"integrationId":      id,
		"deletedDocuments":   total,
		"clearedCollections": cleared,
		"nextStep":           fmt.Sprintf("Call POST /api/github/sync/%d to fetch fresh data from GitHub", id),
	})
}

// getCollections lists the queryable collection names.
// GET /api/data/collections
func (h *Handler) getCollections(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for _, k := range store.AllKinds() {
		names = append(names, k.Name())
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"collections": names})
}

// getCollectionFields lists the queryable fields of one collection.
// GET /api/data/{collection}/fields
func (h *Handler) getCollectionFields(w http.ResponseWriter, r *http.Request) {
	kind, ok := store.KindFromName(chi.URLParam(r, "collection"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "Collection not found")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"fields": kind.Fields()})
}

// getCollectionData serves one paginated, filterable, searchable page of a
// collection, scoped to the requesting user's active integrations.
// GET /api/data/{collection}?userId=&page=&pageSize=&sort=&order=&search=&filter=field:value
func (h *Handler) getCollectionData(w http.ResponseWriter, r *http.Request) {
	kind, ok := store.KindFromName(chi.URLParam(r, "collection"))
	if !ok {
		respondWithError(w, http.StatusNotFound, "Collection not found")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondWithError(w, http.StatusBadRequest, "userId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), listQueryTimeout)
	defer cancel()

	integrations, err := h.db.FindActiveIntegrationsByUser(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to look up integrations", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	params := queryParamsFromRequest(r)
	for _, in := range integrations {
		params.IntegrationIDs = append(params.IntegrationIDs, in.ID)
	}

	result, err := h.db.QueryCollection(ctx, kind, params)
	if err != nil {
		h.logger.Error("Collection query failed", "collection", kind.Name(), "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to get collection data")
		return
	}

	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	respondWithJSON(w, http.StatusOK, result)
}

// globalSearch runs one search term across every collection.
// POST /api/data/search  {"searchValue": "...", "userId": "..."}
func (h *Handler) globalSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SearchValue string `json:"searchValue"`
		UserID      string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SearchValue == "" {
		respondWithError(w, http.StatusBadRequest, "searchValue is required")
		return
	}
	if body.UserID == "" {
		respondWithError(w, http.StatusBadRequest, "userId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), globalSearchTimeout)
	defer cancel()

	integrations, err := h.db.FindActiveIntegrationsByUser(ctx, body.UserID)
	if err != nil {
		h.logger.Error("Failed to look up integrations", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	ids := make([]int64, 0, len(integrations))
	for _, in := range integrations {
		ids = append(ids, in.ID)
	}

	results := make(map[string]any)
	var total int64
	for _, kind := range store.AllKinds() {
		res, err := h.db.QueryCollection(ctx, kind, store.QueryParams{
			IntegrationIDs: ids,
			Page:           1,
			PageSize:       100,
			Search:         body.SearchValue,
		})
		if err != nil {
			h.logger.Error("Global search failed", "collection", kind.Name(), "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to search")
			return
		}
		results[kind.Name()] = map[string]any{"data": res.Data, "total": res.Total}
		total += res.Total
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"searchValue": body.SearchValue,
		"results":     results,
		"total":       total,
	})
}

// integrationID parses the path parameter shared by the integration routes.
func (h *Handler) integrationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "integrationID"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "integrationId is required")
		return 0, false
	}
	return id, true
}

func (h *Handler) integrationError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, apperrors.ErrIntegrationNotFound) {
		respondWithError(w, http.StatusNotFound, "Integration not found")
		return
	}
	h.logger.Error("Integration operation failed", "integration_id", id, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

// queryParamsFromRequest translates the list-query string parameters.
// Filters use the form filter=field:value and may repeat.
func queryParamsFromRequest(r *http.Request) store.QueryParams {
	q := r.URL.Query()
	p := store.QueryParams{
		SortField: q.Get("sort"),
		SortDesc:  strings.EqualFold(q.Get("order"), "desc"),
		Search:    q.Get("search"),
	}
	p.Page, _ = strconv.Atoi(q.Get("page"))
	p.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	for _, f := range q["filter"] {
		field, value, ok := strings.Cut(f, ":")
		if !ok || field == "" {
			continue
		}
		if p.Filters == nil {
			p.Filters = make(map[string]string)
		}
		p.Filters[field] = value
	}
	return p
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
