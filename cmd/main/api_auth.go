package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL,
    created_at    DATETIME  NOT NULL,
    last_used_at  DATETIME
);
`

type contextKey string

const contextKeyPermissions = contextKey("permissions")

const (
	authHeader   = "Sundew-Auth"
	apiKeyPrefix = "sdw_"
	masterScope  = "*"
)

// knownScopes lists every scope a key may be granted. masterScope grants all of them.
var knownScopes = map[string]struct{}{
	masterScope:       {},
	"auth:manage":     {},
	"templates:read":  {},
	"templates:write": {},
	"stats:read":      {},
	"server:config":   {},
	"server:control":  {},
}

// Permissions holds the authentication info for a request. KeyID is zero
// while the API is open because no keys exist yet.
type Permissions struct {
	KeyID    int
	ScopeSet map[string]struct{}
}

// AuthAPI holds the dependencies for the authentication API handlers.
type AuthAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) *AuthAPI {
	return &AuthAPI{
		db:     db,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
}

// APIKeyInfo is the structure returned when listing keys.
type APIKeyInfo struct {
	ID          int        `json:"id"`
	Scopes      []string   `json:"scopes"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key. RawKey is
// only ever shown here; the database keeps its hash.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

// Authenticate checks for a valid key in the Sundew-Auth header before passing
// the request on. While no keys exist the API is open, so that the first key
// can be created.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var keyCount int
		if err := a.db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM api_keys").Scan(&keyCount); err != nil {
			a.logger.Error("Authenticate failed to count keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if keyCount == 0 {
			perms := &Permissions{ScopeSet: map[string]struct{}{masterScope: {}}}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyPermissions, perms)))
			return
		}

		apiKey := r.Header.Get(authHeader)
		if !strings.HasPrefix(apiKey, apiKeyPrefix) {
			respondWithError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}

		perms, err := a.lookupKey(r.Context(), apiKey)
		if errors.Is(err, sql.ErrNoRows) {
			a.logger.Debug("Rejected unknown API key", "path", r.URL.Path)
			respondWithError(w, http.StatusUnauthorized, "Invalid or missing API key")
			return
		}
		if err != nil {
			a.logger.Error("Authenticate failed to query API key", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyPermissions, perms)))
	})
}

// lookupKey resolves a raw key to its permissions and stamps its last use.
func (a *AuthAPI) lookupKey(ctx context.Context, rawKey string) (*Permissions, error) {
	keyHash := hashAPIKey(rawKey)
	var id int
	var scopesStr string
	err := a.db.QueryRowContext(ctx, "SELECT id, scopes FROM api_keys WHERE key_hash = ?", keyHash).Scan(&id, &scopesStr)
	if err != nil {
		return nil, err
	}
	if _, err = a.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id); err != nil {
		a.logger.Warn("Failed to record API key use", "id", id, "error", err)
	}

	perms := &Permissions{KeyID: id, ScopeSet: make(map[string]struct{})}
	for _, s := range strings.Fields(scopesStr) {
		perms.ScopeSet[s] = struct{}{}
	}
	return perms, nil
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listKeys(w, r)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}

	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed for this key resource")
		return
	}
	a.deleteKey(w, r, id)
}

// handleCheckMe reports the scopes of the calling key.
func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing API key")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"id":     perms.KeyID,
		"scopes": perms.Scopes(),
	})
}

// Scopes returns the granted scopes in sorted order.
func (p *Permissions) Scopes() []string {
	scopes := make([]string, 0, len(p.ScopeSet))
	for s := range p.ScopeSet {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	if !hasScope(r, "auth:manage") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}

	rows, err := a.db.QueryContext(r.Context(), `SELECT id, description, scopes, created_at, last_used_at FROM api_keys ORDER BY id`)
	if err != nil {
		a.logger.Error("Failed to query API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := []APIKeyInfo{}
	for rows.Next() {
		var key APIKeyInfo
		var scopesStr string
		var lastUsed sql.NullTime
		if err = rows.Scan(&key.ID, &key.Description, &scopesStr, &key.CreatedAt, &lastUsed); err != nil {
			a.logger.Error("Failed to scan API key row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		key.Scopes = strings.Fields(scopesStr)
		if lastUsed.Valid {
			key.LastUsedAt = &lastUsed.Time
		}
		keys = append(keys, key)
	}
	respondWithJSON(w, http.StatusOK, keys)
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	if !hasScope(r, "auth:manage") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	for _, scope := range req.Scopes {
		if _, ok := knownScopes[scope]; !ok {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scope '%s'", scope))
			return
		}
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		a.logger.Error("Failed to generate new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}

	scopes := req.Scopes
	// The first key is always a master key, so the API can never be locked.
	if perms, _ := r.Context().Value(contextKeyPermissions).(*Permissions); perms != nil && perms.KeyID == 0 {
		scopes = []string{masterScope}
	}

	var newID int
	err = a.db.QueryRowContext(r.Context(),
		`INSERT INTO api_keys (key_hash, description, scopes, created_at) VALUES (?, ?, ?, ?) RETURNING id`,
		hashAPIKey(rawKey), req.Description, strings.Join(scopes, " "), time.Now().UTC()).Scan(&newID)
	if err != nil {
		a.logger.Error("Failed to insert new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}

	a.logger.Info("API key created", "id", newID, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{
		ID:     newID,
		RawKey: rawKey,
		Scopes: scopes,
	})
}

func (a *AuthAPI) deleteKey(w http.ResponseWriter, r *http.Request, id int) {
	if !hasScope(r, "auth:manage") {
		respondWithError(w, http.StatusForbidden, "Forbidden: requires 'auth:manage' scope")
		return
	}
	if perms, _ := r.Context().Value(contextKeyPermissions).(*Permissions); perms != nil && perms.KeyID == id {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the key used to make this request")
		return
	}

	res, err := a.db.ExecContext(r.Context(), "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// hasScope checks if the permission set in the request context includes a required scope.
func hasScope(r *http.Request, requiredScope string) bool {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		return false
	}
	if _, isMaster := perms.ScopeSet[masterScope]; isMaster {
		return true
	}
	_, has := perms.ScopeSet[requiredScope]
	return has
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
