package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"credchain/internal/address"
	"credchain/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader trusts X-Actor-Id without credentials. Local development only.
	AllowActorHeader bool
	Logger           zerolog.Logger
}

// Principal is the authenticated caller. Every identity is a base58 address.
type Principal struct {
	Identity address.Address
	Source   string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFromContext returns the caller identity or a 401 error.
func actorFromContext(ctx context.Context) (address.Address, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && !p.Identity.IsZero() {
		return p.Identity, nil
	}
	return address.Address{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := address.Parse(claims.Subject)
	if err != nil {
		return Principal{}, errors.New("subject claim must be an identity")
	}
	return Principal{Identity: id, Source: "jwt"}, nil
}

// SignToken mints an HS256 token for identity. Used by the CLI and tests.
func SignToken(secret string, identity address.Address, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:  identity.String(),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	id, err := address.Parse(apiKey.ActorID)
	if err != nil {
		return Principal{}, errors.New("api key bound to an invalid identity")
	}
	return Principal{Identity: id, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// publicPaths skip authentication entirely.
func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):           true,
		path.Join(basePath, "openapi.json"):     true,
		path.Join(basePath, "addresses/derive"): true,
	}
}

// newAuthMiddleware resolves the principal. Reads are allowed anonymously;
// handlers that mutate state call actorFromContext and fail with 401.
func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if (basePath != "" && !strings.HasPrefix(req.URL.Path, basePath)) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			actorHeader := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				serveAs(w, req, next, principal)
			case apiKeyHeader != "":
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				serveAs(w, req, next, principal)
			case actorHeader != "" && cfg.AllowActorHeader:
				id, err := address.Parse(actorHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "X-Actor-Id must be a base58 identity", nil))
					return
				}
				cfg.Logger.Warn().Str("actor", id.String()).Msg("trusting X-Actor-Id header without credentials")
				serveAs(w, req, next, Principal{Identity: id, Source: "actor_header"})
			default:
				next.ServeHTTP(w, req)
			}
		})
	}
}

// serveAs tags the request logger with the principal and continues.
func serveAs(w http.ResponseWriter, req *http.Request, next http.Handler, p Principal) {
	zerolog.Ctx(req.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("actor", p.Identity.String()).Str("auth", p.Source)
	})
	next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), p)))
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
