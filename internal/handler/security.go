package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
)

const (
	headerAPIKey = "api_key"
	headerToken  = "token"
)

var errUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates the two caller kinds: shoppers carrying an
// HS256 session token, and operators carrying an API key whose HMAC-SHA256
// hash is stored in the key repository.
type SecurityHandler struct {
	apikeys   auth.Repository
	pepper    []byte
	jwtSecret []byte
}

// NewSecurityHandler creates a SecurityHandler.
func NewSecurityHandler(apikeys auth.Repository, pepper, jwtSecret []byte) *SecurityHandler {
	return &SecurityHandler{apikeys: apikeys, pepper: pepper, jwtSecret: jwtSecret}
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// the key repository.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// authenticateKey resolves an operator API key that carries scope.
func (s *SecurityHandler) authenticateKey(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hash := HashAPIKey(s.pepper, key)
	info, err := s.apikeys.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return nil, errUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}
	// The repository matched on the hash; compare again in constant time so a
	// wrong row can never authenticate.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 || !info.HasScope(scope) {
		return nil, errUnauthorized
	}
	return info, nil
}

// Operator requires an API key with the orders:admin scope.
func (s *SecurityHandler) Operator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		info, err := s.authenticateKey(ctx, r.Header.Get(headerAPIKey), auth.ScopeOrdersAdmin)
		if err != nil {
			if !errors.Is(err, errUnauthorized) {
				writeInternal(ctx, w, "authenticate api key", err)
				return
			}
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
		next(w, r.WithContext(ctx))
	}
}

type shopperClaims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// shopperID validates an HS256 token and returns its user id, taken from the
// id claim or, failing that, the subject.
func (s *SecurityHandler) shopperID(raw string) (string, error) {
	var claims shopperClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", errors.Wrap(err, "parse token")
	}
	if claims.ID != "" {
		return claims.ID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", errors.New("token has no user id")
}

// Shopper requires a valid shopper token in the token header or as a Bearer
// authorization and stores the user id in the request context.
func (s *SecurityHandler) Shopper(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(headerToken)
		if raw == "" {
			raw, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if raw == "" {
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		userID, err := s.shopperID(raw)
		if err != nil {
			zctx.From(r.Context()).Debug("Shopper token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		ctx := zctx.With(auth.WithShopper(r.Context(), userID), zap.String("user_id", userID))
		next(w, r.WithContext(ctx))
	}
}
