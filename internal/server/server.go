// Package server exposes registered entity types over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/susom/redcap-entity/internal/registry"
	"github.com/susom/redcap-entity/internal/sqlite"
	"github.com/susom/redcap-entity/pkg/types"
)

// Config for the HTTP API handler.
type Config struct {
	Registry  *registry.Registry
	Directory *sqlite.Directory
	BasePath  string
	Auth      AuthConfig
	Logger    hclog.Logger
	Version   string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"validation failed: title: required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope {"error": {...}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type requestIDKey struct{}

// New returns an HTTP handler exposing the entity API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Request schema failures are malformed requests, not rejected data.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, e := range errs {
				msgs[i] = e.Error()
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	logger := cfg.Logger.Named("http")
	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Directory))

	hcfg := huma.DefaultConfig("Entity API", version)
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handlers{reg: cfg.Registry, logger: logger}
	registerHealth(group)
	h.registerTypes(group)
	h.registerEntities(group)

	return router, nil
}

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(logger hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)

			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))
			logger.Debug("request",
				"id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors onto the envelope.
func (h *handlers) handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		fields := make(map[string]any, len(verr.Fields))
		for k, v := range verr.Fields {
			fields[k] = v
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "validation failed", map[string]any{"fields": fields})
	}
	switch {
	case errors.Is(err, types.ErrInvalidType):
		return newAPIError(http.StatusNotFound, "invalid_type", err.Error(), nil)
	case errors.Is(err, types.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, types.ErrConflict), errors.Is(err, types.ErrAlreadyPersisted), errors.Is(err, types.ErrDeleted):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, types.ErrInvalidQuery), errors.Is(err, types.ErrUnknownProperty), errors.Is(err, types.ErrInvalidIdentifier):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	h.logger.Error("request failed", "id", requestID(ctx), "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"request_id": requestID(ctx)})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// parseFilter reads "field:op:value" (or "field:value" for equality).
func parseFilter(s string) (field, op, value string, err error) {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 2:
		return parts[0], "=", parts[1], nil
	case 3:
		op, ok := filterOps[strings.ToLower(parts[1])]
		if !ok {
			return "", "", "", fmt.Errorf("%w: operator %q", types.ErrInvalidQuery, parts[1])
		}
		return parts[0], op, parts[2], nil
	default:
		return "", "", "", fmt.Errorf("%w: filter %q", types.ErrInvalidQuery, s)
	}
}

var filterOps = map[string]string{
	"eq":   "=",
	"ne":   "!=",
	"lt":   "<",
	"le":   "<=",
	"gt":   ">",
	"ge":   ">=",
	"like": "like",
	"in":   "in",
}
