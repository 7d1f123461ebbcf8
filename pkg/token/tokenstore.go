// Package tokenstore tracks revoked access tokens by jti. An entry only has
// to live until the token would have expired anyway, so revocations sit in
// the TTL cache.
package tokenstore

import (
	"time"

	"PolyChat/pkg/cache"
)

const keyPrefix = "revoked-jti:"

var store = cache.Default()

// RevokeToken marks jti as revoked until expiresAt.
func RevokeToken(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	store.Set(keyPrefix+jti, struct{}{}, ttl)
}

func IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}
	_, ok := store.Get(keyPrefix + jti)
	return ok
}
