package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"slices"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/auth"
)

// Request headers carrying credentials and the forwarded identity.
const (
	HeaderAPIKey   = "X-API-Key"
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

var errInvalidAPIKey = apperr.New(apperr.KindForbidden, "auth.invalid_api_key", "missing or invalid API key")

// APIKeyAuth authenticates the trusted caller (the edge gateway) via
// HMAC-SHA256 hashed API keys.
type APIKeyAuth struct {
	keys   auth.Repository
	pepper []byte
}

// NewAPIKeyAuth creates an APIKeyAuth with the given key repository and HMAC pepper.
func NewAPIKeyAuth(keys auth.Repository, pepper []byte) *APIKeyAuth {
	return &APIKeyAuth{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of key under pepper, as stored in the key table.
func Hash(pepper []byte, key string) string {
	return hex.EncodeToString(keyMAC(pepper, key))
}

func keyMAC(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Middleware rejects requests without a known API key with 401.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		if key == "" || !a.verify(r, key) {
			writeErrorStatus(w, http.StatusUnauthorized, errInvalidAPIKey)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *APIKeyAuth) verify(r *http.Request, key string) bool {
	hash := keyMAC(a.pepper, key)

	info, err := a.keys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			zctx.From(r.Context()).Warn("API key lookup failed", zap.Error(err))
		}
		return false
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(hash, stored) == 1
}

// Identity attaches the forwarded (user, role) pair to the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := auth.Actor{
			UserID: r.Header.Get(HeaderUserID),
			Role:   auth.Role(r.Header.Get(HeaderUserRole)),
		}
		if actor.UserID == "" || !actor.Role.Valid() {
			writeErrorStatus(w, http.StatusUnauthorized, auth.ErrUnauthenticated)
			return
		}
		ctx := auth.WithActor(r.Context(), actor)
		ctx = zctx.With(ctx, zap.String("user_id", actor.UserID), zap.String("role", string(actor.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := auth.ActorFrom(r.Context())
			if !slices.Contains(roles, actor.Role) {
				writeError(w, r, apperr.New(apperr.KindForbidden, "auth.role_required", "not allowed for role "+string(actor.Role)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
