package broker

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"beacon/internal/dispatch"
)

// TokenValidator checks bearer tokens presented by internal API callers.
// Tokens are issued by the external auth service; the broker shares its HS256
// secret and only validates.
type TokenValidator struct {
	secretKey []byte
	issuer    string
}

// CallerClaims are the claims the broker cares about in a caller token.
type CallerClaims struct {
	jwt.RegisteredClaims
}

// NewTokenValidator creates a validator for tokens signed with secretKey.
func NewTokenValidator(secretKey, issuer string) *TokenValidator {
	return &TokenValidator{
		secretKey: []byte(secretKey),
		issuer:    issuer,
	}
}

// ValidateToken parses and validates a bearer token string.
func (v *TokenValidator) ValidateToken(tokenString string) (*CallerClaims, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secretKey, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RequireAuth wraps a handler with bearer-token validation. A nil validator
// disables the check (require_auth off in config).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			s.writeError(w, http.StatusUnauthorized, dispatch.ErrorCodeUnauthorized, "bearer token required")
			return
		}

		if _, err := s.tokens.ValidateToken(authHeader[len(bearerPrefix):]); err != nil {
			s.logger.Debug().Err(err).Msg("Rejected caller token")
			s.writeError(w, http.StatusUnauthorized, dispatch.ErrorCodeUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
