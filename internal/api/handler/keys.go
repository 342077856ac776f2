package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/handhunter/internal/api/middleware"
	"github.com/kiranshivaraju/handhunter/internal/api/response"
	"github.com/kiranshivaraju/handhunter/internal/apikey"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// KeyStore is the slice of the store the key handlers need.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}

type createdKey struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key is only ever returned here.
func NewCreateKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, response.CodeUnauthorized, "Authentication required", nil)
			return
		}

		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.Error(w, response.CodeInvalidRequest, "name is required", nil)
			return
		}

		existing, err := s.ListAPIKeys(r.Context(), userID)
		if err != nil {
			slog.Error("listing api keys", "user_id", userID, "error", err)
			response.Internal(w)
			return
		}
		for _, k := range existing {
			if k.Name == req.Name {
				response.Error(w, response.CodeDuplicateKey, "A key with this name already exists", nil)
				return
			}
		}

		raw, key, err := apikey.Generate(userID, req.Name, req.Scopes)
		if err != nil {
			slog.Error("generating api key", "error", err)
			response.Internal(w)
			return
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, response.CodeDuplicateKey, "A key with this name already exists", nil)
				return
			}
			slog.Error("creating api key", "error", err)
			response.Internal(w)
			return
		}

		response.Created(w, createdKey{
			ID:        key.ID,
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, response.CodeUnauthorized, "Authentication required", nil)
			return
		}
		keys, err := s.ListAPIKeys(r.Context(), userID)
		if err != nil {
			slog.Error("listing api keys", "user_id", userID, "error", err)
			response.Internal(w)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, response.CodeUnauthorized, "Authentication required", nil)
			return
		}
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, response.CodeInvalidKeyID, "keyID must be a UUID", nil)
			return
		}

		if err := s.RevokeAPIKey(r.Context(), keyID, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, response.CodeKeyNotFound, "API key not found", nil)
				return
			}
			slog.Error("revoking api key", "key_id", keyID, "error", err)
			response.Internal(w)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
