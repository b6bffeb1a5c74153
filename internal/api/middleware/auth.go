package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/cloo-solutions/agentkb/internal/api"
)

type contextKey string

// KeyIDKey holds a short, loggable identifier of the API key that
// authenticated the request.
const KeyIDKey contextKey = "key_id"

const keyIDHeader = "X-Key-ID"

// StaticKeys validates bearer tokens against a fixed key set.
type StaticKeys struct {
	digests [][sha256.Size]byte
}

// NewStaticKeys builds a validator from the configured keys. Blank entries
// are ignored.
func NewStaticKeys(keys []string) *StaticKeys {
	s := &StaticKeys{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		s.digests = append(s.digests, sha256.Sum256([]byte(k)))
	}
	return s
}

// Enabled reports whether any key is configured.
func (s *StaticKeys) Enabled() bool {
	return s != nil && len(s.digests) > 0
}

// Validate returns the key id of token, or false.
func (s *StaticKeys) Validate(token string) (string, bool) {
	d := sha256.Sum256([]byte(token))
	match := 0
	for i := range s.digests {
		match |= subtle.ConstantTimeCompare(d[:], s.digests[i][:])
	}
	if match != 1 {
		return "", false
	}
	return hex.EncodeToString(d[:4]), true
}

// APIKeyAuth requires a valid bearer key. With no keys configured every
// request passes.
func APIKeyAuth(keys *StaticKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !keys.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			keyID, ok := keys.Validate(strings.TrimPrefix(authHeader, "Bearer "))
			if !ok {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			r.Header.Set(keyIDHeader, keyID)
			ctx := context.WithValue(r.Context(), KeyIDKey, keyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyID returns the authenticated key id from context.
func GetKeyID(ctx context.Context) string {
	keyID, _ := ctx.Value(KeyIDKey).(string)
	return keyID
}

// requestKeyID also sees ids set by auth further down the chain, which
// share the request's header map.
func requestKeyID(r *http.Request) string {
	if id := GetKeyID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(keyIDHeader)
}
