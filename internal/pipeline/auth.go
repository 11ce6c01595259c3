package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/governance"
)

// Authenticator turns a raw Authorization header into a governance user
// profile, caching the result under the token's hash so every request in
// a session doesn't re-validate against governance.
type Authenticator struct {
	governance *governance.Client
	kv         cache.KV
	ttl        time.Duration
}

// NewAuthenticator constructs an Authenticator. ttl is the JWT-cache TTL.
func NewAuthenticator(gov *governance.Client, kv cache.KV, ttl time.Duration) *Authenticator {
	return &Authenticator{governance: gov, kv: kv, ttl: ttl}
}

func profileKey(tokenHash string) string {
	return fmt.Sprintf("sentinel:profile:%s", tokenHash)
}

// Authenticate extracts the bearer token from authHeader, resolves it to a
// UserProfile (cache first, governance on miss), and returns it.
func (a *Authenticator) Authenticate(ctx context.Context, authHeader string) (domain.UserProfile, error) {
	token, err := extractBearerToken(authHeader)
	if err != nil {
		return domain.UserProfile{}, err
	}

	hash := sha256Hex(token)
	key := profileKey(hash)

	if raw, ok, err := a.kv.Get(ctx, key); err == nil && ok {
		var profile domain.UserProfile
		if err := json.Unmarshal(raw, &profile); err == nil {
			return profile, nil
		}
	}

	profile, err := a.governance.ValidateJWT(ctx, token)
	if err != nil {
		return domain.UserProfile{}, err
	}

	if raw, err := json.Marshal(profile); err == nil {
		_ = a.kv.Set(ctx, key, raw, a.ttl)
	}

	return profile, nil
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", apperr.Unauthorized("missing authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", apperr.InvalidToken("malformed authorization header")
	}

	token := strings.TrimPrefix(authHeader, prefix)
	if token == "" {
		return "", apperr.InvalidToken("empty bearer token")
	}
	return token, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
