package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/types"
)

// AuthConfig controls how callers are identified. With AllowAnonymous,
// requests without credentials run with an empty scope, the way batch
// jobs do.
type AuthConfig struct {
	JWTSecret      string
	AllowAnonymous bool
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Project        string `json:"project,omitempty"`
	SuperUser      bool   `json:"super_user,omitempty"`
	AccountManager bool   `json:"account_manager,omitempty"`
}

func authenticateJWT(token, secret string) (types.Scope, error) {
	if strings.TrimSpace(secret) == "" {
		return types.Scope{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return types.Scope{}, err
	}
	if !parsed.Valid {
		return types.Scope{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return types.Scope{}, errors.New("subject claim required")
	}
	return types.Scope{
		ActorID:        claims.Subject,
		ProjectID:      claims.Project,
		SuperUser:      claims.SuperUser,
		AccountManager: claims.AccountManager,
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware resolves the caller scope and stores it in the request
// context. Directory privilege flags are merged with the token's.
func newAuthMiddleware(basePath string, cfg AuthConfig, dir *sqlite.Directory) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				if cfg.AllowAnonymous {
					next.ServeHTTP(w, req)
					return
				}
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}

			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			scope, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			if dir != nil {
				stored, err := dir.Scope(req.Context(), scope.ActorID, scope.ProjectID)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unknown_actor", "unknown actor", nil))
					return
				}
				scope.SuperUser = scope.SuperUser || stored.SuperUser
				scope.AccountManager = scope.AccountManager || stored.AccountManager
			}
			next.ServeHTTP(w, req.WithContext(types.WithScope(req.Context(), scope)))
		})
	}
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
