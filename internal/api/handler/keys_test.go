package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hemalyze/hemalyze/internal/store"
	"github.com/hemalyze/hemalyze/pkg/models"
)

type stubKeyStore struct {
	users   []*models.User
	keys    []*models.APIKey
	revoked []uuid.UUID
}

func (s *stubKeyStore) CreateUser(_ context.Context, u *models.User) error {
	s.users = append(s.users, u)
	return nil
}

func (s *stubKeyStore) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	s.keys = append(s.keys, k)
	return nil
}

func (s *stubKeyStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) {
	return s.keys, nil
}

func (s *stubKeyStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	for _, k := range s.keys {
		if k.ID == id {
			s.revoked = append(s.revoked, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func createKeyReq(t *testing.T, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/admin/keys", bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestCreateKeyHandler_NewUser(t *testing.T) {
	ks := &stubKeyStore{}
	h := NewCreateKeyHandler(ks)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, createKeyReq(t, map[string]any{
		"email":     "pat@example.com",
		"full_name": "Pat Example",
		"name":      "pat-laptop",
		"scopes":    []string{"analyze"},
	}))

	data := parseData(t, rec, http.StatusCreated)

	rawKey, _ := data["key"].(string)
	if !strings.HasPrefix(rawKey, "hmlz_") {
		t.Fatalf("expected hmlz_ key, got %q", rawKey)
	}
	if data["key_prefix"] != rawKey[:8] {
		t.Errorf("prefix %v does not match key %q", data["key_prefix"], rawKey)
	}

	if len(ks.users) != 1 || ks.users[0].Email != "pat@example.com" {
		t.Fatalf("expected one user created, got %+v", ks.users)
	}
	if len(ks.keys) != 1 {
		t.Fatalf("expected one key stored, got %d", len(ks.keys))
	}

	stored := ks.keys[0]
	if stored.UserID != ks.users[0].ID {
		t.Errorf("key not bound to created user")
	}
	if stored.KeyHash == rawKey {
		t.Errorf("raw key must not be stored")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.KeyHash), []byte(rawKey)); err != nil {
		t.Errorf("stored hash does not match raw key: %v", err)
	}
}

func TestCreateKeyHandler_ExistingUser(t *testing.T) {
	ks := &stubKeyStore{}
	h := NewCreateKeyHandler(ks)
	rec := httptest.NewRecorder()
	userID := uuid.New()

	h.ServeHTTP(rec, createKeyReq(t, map[string]any{
		"user_id": userID.String(),
		"name":    "ci-pipeline",
	}))

	parseData(t, rec, http.StatusCreated)
	if len(ks.users) != 0 {
		t.Errorf("no user should be created when user_id is given")
	}
	if len(ks.keys) != 1 || ks.keys[0].UserID != userID {
		t.Fatalf("expected key for %s, got %+v", userID, ks.keys)
	}
}

func TestCreateKeyHandler_MissingName(t *testing.T) {
	h := NewCreateKeyHandler(&stubKeyStore{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, createKeyReq(t, map[string]any{"email": "pat@example.com"}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestCreateKeyHandler_MissingOwner(t *testing.T) {
	h := NewCreateKeyHandler(&stubKeyStore{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, createKeyReq(t, map[string]any{"name": "orphan"}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestCreateKeyHandler_InvalidJSON(t *testing.T) {
	h := NewCreateKeyHandler(&stubKeyStore{})
	rec := httptest.NewRecorder()

	r := httptest.NewRequest(http.MethodPost, "/admin/keys", bytes.NewReader([]byte("{invalid")))
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if code != "INVALID_REQUEST" {
		t.Errorf("expected INVALID_REQUEST, got %s", code)
	}
}

func TestRevokeKeyHandler_Revokes(t *testing.T) {
	key := &models.APIKey{ID: uuid.New(), UserID: uuid.New(), Name: "old"}
	ks := &stubKeyStore{keys: []*models.APIKey{key}}

	h := NewRevokeKeyHandler(ks)
	rec := httptest.NewRecorder()
	r := withURLParam(httptest.NewRequest(http.MethodDelete, "/admin/keys/"+key.ID.String(), nil), "keyID", key.ID.String())
	h.ServeHTTP(rec, r)

	data := parseData(t, rec, http.StatusOK)
	if data["revoked"] != true {
		t.Errorf("expected revoked true, got %v", data["revoked"])
	}
	if len(ks.revoked) != 1 || ks.revoked[0] != key.ID {
		t.Errorf("expected %s revoked, got %v", key.ID, ks.revoked)
	}
}

func TestRevokeKeyHandler_NotFound(t *testing.T) {
	h := NewRevokeKeyHandler(&stubKeyStore{})
	rec := httptest.NewRecorder()
	id := uuid.New().String()
	r := withURLParam(httptest.NewRequest(http.MethodDelete, "/admin/keys/"+id, nil), "keyID", id)
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	if code != "RESOURCE_NOT_FOUND" {
		t.Errorf("expected RESOURCE_NOT_FOUND, got %s", code)
	}
}

func TestListKeysHandler_ReturnsKeys(t *testing.T) {
	ks := &stubKeyStore{keys: []*models.APIKey{
		{ID: uuid.New(), UserID: uuid.New(), Name: "one", KeyPrefix: "hmlz_abc"},
		{ID: uuid.New(), UserID: uuid.New(), Name: "two", KeyPrefix: "hmlz_def"},
	}}

	h := NewListKeysHandler(ks)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/keys", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 {
		t.Errorf("expected 2 keys, got %d", len(env.Data))
	}
	for _, k := range env.Data {
		if _, leaked := k["key_hash"]; leaked {
			t.Errorf("key_hash must not be serialized")
		}
	}
}
