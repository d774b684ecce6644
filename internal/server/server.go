package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"radwerk/internal/cockpit"
	"radwerk/internal/config"
	"radwerk/internal/domain"
	"radwerk/internal/engine"
	"radwerk/internal/lifecycle"
	"radwerk/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"order cannot go from received to closed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"received\",\"to\":\"closed\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Radwerk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Radwerk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkshops(group, cfg.Engine)
	registerOrders(group, cfg.Engine)
	registerBuilds(group, cfg.Engine)
	registerCockpit(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerPurge(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps domain failures onto the wire taxonomy. Typed errors
// first, sentinels next, string sniffing only as a fallback for plain
// validation errors.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var it *lifecycle.InvalidTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": it.From, "to": it.To})
	}
	var us *lifecycle.UnknownStatusError
	if errors.As(err, &us) {
		return newAPIError(http.StatusBadRequest, "unknown_status", err.Error(), map[string]any{"status": us.Status})
	}
	var inc *lifecycle.IncompleteDataError
	if errors.As(err, &inc) {
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_data", err.Error(), map[string]any{"missing": inc.Missing})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrUnavailable) {
		return newAPIError(http.StatusServiceUnavailable, "store_unavailable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "incomplete_data"
	case http.StatusServiceUnavailable:
		return "store_unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	devLoginPath := path.Join("/", basePath, "auth/dev/login")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Radwerk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
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

func registerWorkshops(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workshop",
		Method:        http.MethodPost,
		Path:          "/workshops",
		Summary:       "Create workshop",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkshopRequest `json:"body"`
	}) (*struct {
		Body WorkshopResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := e.InitWorkshop(ctx, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkshopResponse `json:"body"`
		}{Body: workshopResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workshops",
		Method:      http.MethodGet,
		Path:        "/workshops",
		Summary:     "List workshops",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []WorkshopResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkshops(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]WorkshopResponse, 0, len(items))
		for _, w := range items {
			res = append(res, workshopResponse(w))
		}
		return &struct {
			Body []WorkshopResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workshop",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}",
		Summary:     "Get workshop",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
	}) (*struct {
		Body WorkshopResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkshop(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkshopResponse `json:"body"`
		}{Body: workshopResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workshop-status",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/status",
		Summary:     "Workshop status summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkshop(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		orderCounts, err := e.Repo.CountOrdersByStatus(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		buildCounts, err := e.Repo.CountBuildsByStatus(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"workshop_id":  w.ID,
			"status":       w.Status,
			"order_counts": orderCounts,
			"build_counts": buildCounts,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workshop-config",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/config",
		Summary:     "Get workshop config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
	}) (*struct {
		Body WorkshopConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetWorkshopConfig(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkshopConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-workshop-config",
		Method:      http.MethodPut,
		Path:        "/workshops/{workshop_id}/config",
		Summary:     "Replace workshop config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string                      `path:"workshop_id"`
		Body       UpdateWorkshopConfigRequest `json:"body"`
	}) (*struct {
		Body WorkshopConfigResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetWorkshop(ctx, input.WorkshopID); err != nil {
			return nil, handleError(err)
		}
		cfg := &config.Config{}
		cfg.Workshop.Name = input.Body.Workshop.Name
		cfg.Completion.RequiredFields = input.Body.Completion.RequiredFields
		cfg.Urgency.UpcomingDays = input.Body.Urgency.UpcomingDays
		cfg.Retention.ArchiveDays = input.Body.Retention.ArchiveDays
		if err := e.Repo.UpsertWorkshopConfig(ctx, input.WorkshopID, cfg); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetWorkshopConfig(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkshopConfigResponse `json:"body"`
		}{Body: configResponse(stored)}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/orders",
		Summary:       "Take in a repair order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string             `path:"workshop_id"`
		Body       CreateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.OrderCreateOptions{
			WorkshopID:   input.WorkshopID,
			Title:        input.Body.Title,
			CustomerName: input.Body.CustomerName,
			BikeDesc:     input.Body.BikeDesc,
			AssigneeID:   input.Body.AssigneeID,
			AssigneeName: input.Body.AssigneeName,
			DueDate:      input.Body.DueDate,
			Actor:        actor,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		o, err := e.CreateOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/orders",
		Summary:     "List orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkshopID      string `path:"workshop_id"`
		Status          string `query:"status"`
		AssigneeID      string `query:"assignee_id"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListOrders(ctx, repo.OrderFilters{
			WorkshopID:      input.WorkshopID,
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			IncludeArchived: input.IncludeArchived,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{Items: []OrderResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, o := range items {
			resp.Items = append(resp.Items, orderResponse(o))
		}
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/orders/{id}",
		Summary:     "Get order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		o, err := e.Repo.GetOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, o.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "order not found in workshop", nil)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-order-status",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/orders/{id}/status",
		Summary:     "Move order to a new status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string           `path:"workshop_id"`
		ID         string           `path:"id"`
		Body       SetStatusRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.TransitionOrder(ctx, input.ID, input.Body.Status, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, o.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "order not found in workshop", nil)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-order",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/orders/{id}/assign",
		Summary:     "Assign order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string        `path:"workshop_id"`
		ID         string        `path:"id"`
		Body       AssignRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.AssignOrder(ctx, input.ID, input.Body.AssigneeID, input.Body.AssigneeName, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, o.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "order not found in workshop", nil)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-order-note",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/orders/{id}/notes",
		Summary:       "Add order note",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string      `path:"workshop_id"`
		ID         string      `path:"id"`
		Body       NoteRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.AddOrderNote(ctx, input.ID, input.Body.Text, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "update-order-checklist",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/orders/{id}/checklist",
		Summary:       "Update repair checklist item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string           `path:"workshop_id"`
		ID         string           `path:"id"`
		Body       ChecklistRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.UpdateChecklist(ctx, input.ID, input.Body.Item, input.Body.Done, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-order",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/orders/{id}/archive",
		Summary:     "Archive order",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string         `path:"workshop_id"`
		ID         string         `path:"id"`
		Body       ArchiveRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.ArchiveOrder(ctx, input.ID, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-history",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/orders/{id}/history",
		Summary:     "Order history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := e.History(ctx, lifecycle.KindOrder, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}

func registerBuilds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-build",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/builds",
		Summary:       "Open an assembly build",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string             `path:"workshop_id"`
		Body       CreateBuildRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.BuildCreateOptions{
			WorkshopID:   input.WorkshopID,
			Title:        input.Body.Title,
			CustomerName: input.Body.CustomerName,
			AssigneeID:   input.Body.AssigneeID,
			AssigneeName: input.Body.AssigneeName,
			DueDate:      input.Body.DueDate,
			Actor:        actor,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		b, err := e.CreateBuild(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-builds",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/builds",
		Summary:     "List builds",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkshopID      string `path:"workshop_id"`
		Status          string `query:"status"`
		AssigneeID      string `query:"assignee_id"`
		IncludeArchived bool   `query:"include_archived"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedBuilds `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListBuilds(ctx, repo.BuildFilters{
			WorkshopID:      input.WorkshopID,
			Status:          input.Status,
			AssigneeID:      input.AssigneeID,
			IncludeArchived: input.IncludeArchived,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedBuilds{Items: []BuildResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, b := range items {
			resp.Items = append(resp.Items, buildResponse(b))
		}
		return &struct {
			Body paginatedBuilds `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-build",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/builds/{id}",
		Summary:     "Get build",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		b, err := e.Repo.GetBuild(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, b.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "build not found in workshop", nil)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-build-status",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/builds/{id}/status",
		Summary:     "Move build to a new status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string           `path:"workshop_id"`
		ID         string           `path:"id"`
		Body       SetStatusRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.TransitionBuild(ctx, input.ID, input.Body.Status, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, b.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "build not found in workshop", nil)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-build",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/builds/{id}/complete",
		Summary:     "Complete build with bike attributes",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string               `path:"workshop_id"`
		ID         string               `path:"id"`
		Body       CompleteBuildRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CompleteBuild(ctx, input.ID, input.Body.Fields, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, b.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "build not found in workshop", nil)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-build",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/builds/{id}/assign",
		Summary:     "Assign build",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string        `path:"workshop_id"`
		ID         string        `path:"id"`
		Body       AssignRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.AssignBuild(ctx, input.ID, input.Body.AssigneeID, input.Body.AssigneeName, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if !workshopMatches(input.WorkshopID, b.WorkshopID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "build not found in workshop", nil)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-build-note",
		Method:        http.MethodPost,
		Path:          "/workshops/{workshop_id}/builds/{id}/notes",
		Summary:       "Add build note",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string      `path:"workshop_id"`
		ID         string      `path:"id"`
		Body       NoteRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evt, err := e.AddBuildNote(ctx, input.ID, input.Body.Text, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-build",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/builds/{id}/archive",
		Summary:     "Archive build",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string         `path:"workshop_id"`
		ID         string         `path:"id"`
		Body       ArchiveRequest `json:"body"`
	}) (*struct {
		Body BuildResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.ArchiveBuild(ctx, input.ID, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BuildResponse `json:"body"`
		}{Body: buildResponse(b)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "build-history",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/builds/{id}/history",
		Summary:     "Build history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		ID         string `path:"id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		events, err := e.History(ctx, lifecycle.KindBuild, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(events)}, nil
	})
}

func registerCockpit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "cockpit",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/cockpit",
		Summary:     "Cockpit dashboard",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Filter     string `query:"filter" enum:"all,overdue,today,urgent,upcoming" default:"all"`
	}) (*struct {
		Body CockpitResponse `json:"body"`
	}, error) {
		filter := cockpit.Filter(input.Filter)
		if filter == "" {
			filter = cockpit.FilterAll
		}
		if !validCockpitFilter(filter) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid filter", map[string]any{"filter": input.Filter})
		}
		if _, err := e.Repo.GetWorkshop(ctx, input.WorkshopID); err != nil {
			return nil, handleError(err)
		}
		view, err := e.Cockpit(ctx, input.WorkshopID, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := CockpitResponse{
			Filter:  string(view.Filter),
			Entries: []CockpitEntryResponse{},
			Counts:  cockpitCounts(view.Counts),
		}
		for _, entry := range view.Entries {
			resp.Entries = append(resp.Entries, cockpitEntryResponse(entry))
		}
		return &struct {
			Body CockpitResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}/events",
		Summary:     "Latest events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
		Kind       string `query:"kind"`
		EntityKind string `query:"entity_kind" enum:"order,build,"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursor, input.WorkshopID, input.Kind, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit].ID, 10)
			items = items[:limit]
		}
		resp.Items = mapEvents(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerPurge(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "purge-expired",
		Method:      http.MethodPost,
		Path:        "/workshops/{workshop_id}/purge",
		Summary:     "Run retention sweep",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
	}) (*struct {
		Body PurgeResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetWorkshop(ctx, input.WorkshopID); err != nil {
			return nil, handleError(err)
		}
		n, err := e.PurgeExpired(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PurgeResponse `json:"body"`
		}{Body: PurgeResponse{Purged: n}}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a dev token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "jwt secret not configured", nil)
		}
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   input.Body.ActorID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			},
			Name: input.Body.Name,
		})
		signed, err := token.SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "sign token", nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: signed}}, nil
	})
}

// --- helpers ---

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

func workshopMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}

func validCockpitFilter(f cockpit.Filter) bool {
	for _, known := range cockpit.Filters {
		if f == known {
			return true
		}
	}
	return false
}
