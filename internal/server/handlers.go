package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/susom/redcap-entity/internal/registry"
	"github.com/susom/redcap-entity/pkg/entity"
	"github.com/susom/redcap-entity/pkg/types"
)

type handlers struct {
	reg    *registry.Registry
	logger hclog.Logger
}

type entityDTO struct {
	ID      int64          `json:"id"`
	Type    string         `json:"type"`
	Label   string         `json:"label,omitempty"`
	Created *time.Time     `json:"created,omitempty"`
	Updated *time.Time     `json:"updated,omitempty"`
	Version int64          `json:"version,omitempty"`
	Data    map[string]any `json:"data"`
}

func toDTO(e *entity.Entity) entityDTO {
	dto := entityDTO{
		ID:      e.ID(),
		Type:    e.Type().Name,
		Label:   e.Label(),
		Version: e.Version(),
		Data:    e.Data(),
	}
	if e.ID() != 0 {
		c, u := e.Created(), e.Updated()
		dto.Created, dto.Updated = &c, &u
	}
	return dto
}

type typePath struct {
	Type string `path:"type" doc:"Entity type name"`
}

type entityPath struct {
	Type string `path:"type" doc:"Entity type name"`
	ID   int64  `path:"id" doc:"Record identity"`
}

type entityBody struct {
	Data map[string]any `json:"data" doc:"Property values keyed by property name"`
}

type entityOutput struct {
	Body entityDTO
}

func (h *handlers) registerTypes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-types",
		Method:      http.MethodGet,
		Path:        "/types",
		Summary:     "List registered entity types",
		Tags:        []string{"types"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []*types.EntityType `json:"items"`
		}
	}, error) {
		out := &struct {
			Body struct {
				Items []*types.EntityType `json:"items"`
			}
		}{}
		out.Body.Items = h.reg.Types()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-type",
		Method:      http.MethodGet,
		Path:        "/types/{type}",
		Summary:     "Describe an entity type",
		Tags:        []string{"types"},
	}, func(ctx context.Context, input *typePath) (*struct {
		Body *types.EntityType
	}, error) {
		t, err := h.reg.ResolveType(input.Type)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body *types.EntityType
		}{Body: t}, nil
	})
}

func (h *handlers) registerEntities(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-entity",
		Method:        http.MethodPost,
		Path:          "/entities/{type}",
		Summary:       "Create a record",
		Tags:          []string{"entities"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Type string `path:"type" doc:"Entity type name"`
		Body entityBody
	}) (*entityOutput, error) {
		e, err := h.reg.New(ctx, input.Type)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		if _, err := e.Create(ctx, input.Body.Data); err != nil {
			return nil, h.handleError(ctx, err)
		}
		h.logger.Info("entity created", "type", input.Type, "id", e.ID(), "request_id", requestID(ctx))
		return &entityOutput{Body: toDTO(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-entity",
		Method:      http.MethodGet,
		Path:        "/entities/{type}/{id}",
		Summary:     "Load a record",
		Tags:        []string{"entities"},
	}, func(ctx context.Context, input *entityPath) (*entityOutput, error) {
		e, err := h.reg.GetInstance(ctx, input.Type, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &entityOutput{Body: toDTO(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-entity",
		Method:      http.MethodPatch,
		Path:        "/entities/{type}/{id}",
		Summary:     "Change some properties of a record",
		Tags:        []string{"entities"},
	}, func(ctx context.Context, input *struct {
		Type string `path:"type" doc:"Entity type name"`
		ID   int64  `path:"id" doc:"Record identity"`
		Body entityBody
	}) (*entityOutput, error) {
		e, err := h.reg.GetInstance(ctx, input.Type, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		if err := e.SetData(ctx, input.Body.Data); err != nil {
			return nil, h.handleError(ctx, err)
		}
		if _, err := e.Save(ctx); err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &entityOutput{Body: toDTO(e)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-entity",
		Method:        http.MethodDelete,
		Path:          "/entities/{type}/{id}",
		Summary:       "Delete a record",
		Tags:          []string{"entities"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *entityPath) (*struct{}, error) {
		e, err := h.reg.GetInstance(ctx, input.Type, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		if err := e.Delete(ctx); err != nil {
			return nil, h.handleError(ctx, err)
		}
		h.logger.Info("entity deleted", "type", input.Type, "id", input.ID, "request_id", requestID(ctx))
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-entities",
		Method:      http.MethodGet,
		Path:        "/entities/{type}",
		Summary:     "Query records of a type",
		Tags:        []string{"entities"},
	}, func(ctx context.Context, input *struct {
		Type         string   `path:"type" doc:"Entity type name"`
		Limit        int      `query:"limit" minimum:"0" default:"50"`
		Offset       int      `query:"offset" minimum:"0"`
		Order        string   `query:"order" doc:"Column to sort by"`
		Desc         bool     `query:"desc"`
		Filter       []string `query:"filter,explode" doc:"field:op:value, op one of eq ne lt le gt ge like in"`
		ScopeProject bool     `query:"scope_project" doc:"Only records of the caller's project"`
	}) (*struct {
		Body struct {
			Items []entityDTO `json:"items"`
			Total int         `json:"total"`
		}
	}, error) {
		t, err := h.reg.ResolveType(input.Type)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		q, err := h.reg.Query(input.Type)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		for _, raw := range input.Filter {
			field, op, value, err := parseFilter(raw)
			if err != nil {
				return nil, h.handleError(ctx, err)
			}
			q.Condition(field, filterValue(t, field, op, value), op)
		}
		if input.ScopeProject {
			q.ScopeToProject(ctx)
		}
		total, err := q.Count(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		if input.Order != "" {
			q.OrderBy(input.Order, input.Desc)
		}
		q.Limit(input.Limit, input.Offset)
		found, err := q.Execute(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}

		out := &struct {
			Body struct {
				Items []entityDTO `json:"items"`
				Total int         `json:"total"`
			}
		}{}
		out.Body.Items = make([]entityDTO, len(found))
		for i, e := range found {
			out.Body.Items[i] = toDTO(e)
		}
		out.Body.Total = total
		return out, nil
	})
}

// filterValue converts a query-string value to the column's storage form.
// Anything it cannot convert is bound as text and compared by SQLite's
// column affinity.
func filterValue(t *types.EntityType, field, op, value string) any {
	if op == "in" {
		parts := strings.Split(value, ",")
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = filterScalar(t, field, p)
		}
		return items
	}
	if value == "null" && (op == "=" || op == "!=") {
		return nil
	}
	return filterScalar(t, field, value)
}

func filterScalar(t *types.EntityType, field, value string) any {
	p, ok := t.Property(field)
	if !ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		return value
	}
	switch p.Type {
	case types.PropertyBoolean:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	case types.PropertyInteger, types.PropertyEntityReference:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return value
}
