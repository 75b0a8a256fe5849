package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"coach-assessment-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const clientIDKey contextKey = "clientId"

// ClientClaims are the JWT claims issued to coaching clients by the platform.
type ClientClaims struct {
	ClientID string `json:"clientId"`
	jwt.RegisteredClaims
}

// JWTIdentity maps a request's HS256 token to the client it was issued for.
type JWTIdentity struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTIdentity(secret, issuer string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// IssueToken signs a token for clientID valid for ttl.
func (j *JWTIdentity) IssueToken(clientID string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := &ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// ClientIDFromToken validates token and returns its client id.
func (j *JWTIdentity) ClientIDFromToken(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &ClientClaims{}, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return "", domain.ErrUnauthenticated
	}
	claims, ok := parsed.Claims.(*ClientClaims)
	if !ok || !parsed.Valid {
		return "", domain.ErrUnauthenticated
	}
	if claims.ClientID != "" {
		return claims.ClientID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", domain.ErrUnauthenticated
}

// Require rejects requests without a valid token. The token is read from the
// Authorization header, or from the token query parameter for websockets.
func (j *JWTIdentity) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, errors.Join(domain.ErrUnauthenticated, errors.New("missing authorization")))
			return
		}
		clientID, err := j.ClientIDFromToken(token)
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
	})
}

// WithClientID attaches an authenticated client id to ctx.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientID extracts the authenticated client id from ctx.
func ClientID(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
