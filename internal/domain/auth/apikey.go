package auth

import (
	"context"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

// ErrUnknownAPIKey is returned when no active key matches a hash.
var ErrUnknownAPIKey = apperr.New(apperr.KindForbidden, "auth.unknown_api_key", "invalid API key")

// APIKeyInfo identifies a trusted caller (typically the edge gateway) allowed
// to forward user identity headers to the engine.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAll {
			return true
		}
	}
	return false
}

// Scopes granted to API keys.
const (
	ScopeAll      = "*"
	ScopeOrders   = "orders"
	ScopeCouriers = "couriers"
)

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
