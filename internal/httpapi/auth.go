package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxUserKey ctxKey = "olav_user"
const ctxRoleKey ctxKey = "olav_role"

// claims mirrors the administrative bearer JWT: subject plus role, used to
// gate the control surface's write-class endpoints (`reload`, approval
// resolution) separately from read-only ones (`status`, `admin/audit`).
type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// userFromRequest authenticates r against static tokens or a JWT signed with
// secret, returning (user, role, ok).
func userFromRequest(r *http.Request, tokens []string, secret string) (string, string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", "", false
	}
	raw := header
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		raw = strings.TrimSpace(header[len("Bearer "):])
	}
	if raw == "" {
		return "", "", false
	}

	for _, tok := range tokens {
		if subtle.ConstantTimeCompare([]byte(raw), []byte(tok)) == 1 {
			return "token", "admin", true
		}
	}

	if secret == "" {
		return "", "", false
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", "", false
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return "", "", false
	}
	return c.Subject, c.Role, true
}

// wrapWithAuth requires authentication for every route except the
// unauthenticated health/metrics probes.
func wrapWithAuth(next http.Handler, tokens []string, secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if len(tokens) == 0 && secret == "" {
			// No credentials configured: control surface runs open, matching
			// local/dev usage of the CLI's own in-process calls.
			next.ServeHTTP(w, r)
			return
		}
		user, role, ok := userFromRequest(r, tokens, secret)
		if !ok {
			writeError(w, http.StatusUnauthorized, errUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey, user)
		ctx = context.WithValue(ctx, ctxRoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromCtx(ctx context.Context) string {
	u, _ := ctx.Value(ctxUserKey).(string)
	return u
}

func roleFromCtx(ctx context.Context) string {
	r, _ := ctx.Value(ctxRoleKey).(string)
	return r
}

// IssueToken mints an administrative JWT for subject/role, valid for ttl.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString([]byte(secret))
}
