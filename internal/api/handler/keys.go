package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hemalyze/hemalyze/internal/api/response"
	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/pkg/models"
)

const keyPrefixLen = 8

// KeyStore covers the admin key-management operations.
type KeyStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type createKeyRequest struct {
	UserID   *uuid.UUID `json:"user_id"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Name     string     `json:"name"`
	Scopes   []string   `json:"scopes"`
}

type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCreateKeyHandler returns the handler for POST /admin/keys. The raw
// key appears in the response exactly once; only its hash is stored.
func NewCreateKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Request body must be valid JSON", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"name is required", nil)
			return
		}
		if req.UserID == nil && req.Email == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"either user_id or email is required", nil)
			return
		}

		userID := uuid.Nil
		if req.UserID != nil {
			userID = *req.UserID
		} else {
			user := &models.User{
				ID:        uuid.New(),
				Email:     req.Email,
				FullName:  req.FullName,
				CreatedAt: time.Now().UTC(),
			}
			if err := keys.CreateUser(r.Context(), user); err != nil {
				if errors.Is(err, store.ErrDuplicateKey) {
					response.Error(w, http.StatusConflict, "CONFLICT",
						"A user with that email already exists", nil)
					return
				}
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
				return
			}
			userID = user.ID
		}

		rawKey, err := generateRawKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		key := &models.APIKey{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: rawKey[:keyPrefixLen],
			Scopes:    req.Scopes,
			CreatedAt: time.Now().UTC(),
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Created(w, createKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       rawKey,
			KeyPrefix: key.KeyPrefix,
			Scopes:    key.Scopes,
			CreatedAt: key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns the handler for GET /admin/keys.
func NewListKeysHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := keys.ListAPIKeys(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, list)
	}
}

// NewRevokeKeyHandler returns the handler for DELETE /admin/keys/{keyID}.
func NewRevokeKeyHandler(keys KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"key id must be a valid UUID", nil)
			return
		}
		if err := keys.RevokeAPIKey(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND",
					"No API key with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, map[string]any{
			"id":      id.String(),
			"revoked": true,
		})
	}
}

// generateRawKey builds a key of the form hmlz_<48 hex chars>. The
// first eight characters double as the stored lookup prefix.
func generateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "hmlz_" + hex.EncodeToString(buf), nil
}
