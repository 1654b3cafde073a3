package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies an approver. Subject is recorded as the decision maker.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type approverKey struct{}

// ParseToken validates an HS256 token and returns its claims. Expiry and
// not-before are checked by the parser.
func ParseToken(token string, secret []byte) (*Claims, error) {
	if token == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: missing sub")
	}
	return claims, nil
}

// IssueToken signs claims for subject and role. It backs `titan token` and
// tests.
func IssueToken(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// requireApprover admits requests bearing a valid token with the approver
// role and stores the subject in the request context.
func (s *Server) requireApprover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.JWTSecret) == 0 {
			respondError(w, http.StatusServiceUnavailable, ErrCodeApprovalsDisabled,
				"approvals are disabled: no JWT secret configured")
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "bearer token required")
			return
		}
		claims, err := ParseToken(token, []byte(s.cfg.JWTSecret))
		if err != nil {
			respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
			return
		}
		if claims.Role != s.cfg.ApproverRole {
			respondError(w, http.StatusForbidden, ErrCodeForbidden,
				"role "+claims.Role+" may not decide recommendations")
			return
		}

		ctx := context.WithValue(r.Context(), approverKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ApproverFromContext returns the authenticated approver, if any.
func ApproverFromContext(ctx context.Context) string {
	if sub, ok := ctx.Value(approverKey{}).(string); ok {
		return sub
	}
	return ""
}
