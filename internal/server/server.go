package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"clucko/internal/authflow"
	"clucko/internal/domain"
	"clucko/internal/identity"
	"clucko/internal/ledger"
	"clucko/internal/repo"
)

// Config for the HTTP gateway handler.
type Config struct {
	Auth   *authflow.Controller
	Ledger *ledger.Client
	// Journal is nil when the activity journal is disabled.
	Journal            *repo.Repo
	DefaultRewardToken common.Address
	DevIdentity        *DevIdentity
	BasePath           string
	Access             AuthConfig
	Logger             *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"transaction_pending"`
	Message string         `json:"message" example:"transaction already pending"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the session and mission controllers.
func New(cfg Config) (http.Handler, error) {
	if cfg.Auth == nil || cfg.Ledger == nil {
		return nil, errors.New("server: auth and ledger controllers are required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Access.Logger == nil {
		cfg.Access.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Access))
	hcfg := huma.DefaultConfig("Clucko Gateway", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSession(group, cfg.Auth)
	registerMissions(group, cfg.Ledger, cfg.DefaultRewardToken)
	registerEvents(group, cfg.Journal)
	registerEvent(group, cfg.Journal)
	registerDevIdentity(group, cfg.DevIdentity)
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

func handleError(err error) huma.StatusError {
	return handleErrorWithDetails(err, nil)
}

func handleErrorWithDetails(err error, details map[string]any) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		d := map[string]any{"field": ve.Field}
		for k, v := range details {
			d[k] = v
		}
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), d)
	}
	var se domain.StateError
	if errors.As(err, &se) {
		d := map[string]any{"from": string(se.From)}
		for k, v := range details {
			d[k] = v
		}
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), d)
	}
	var be domain.BusyError
	if errors.As(err, &be) {
		return newAPIError(http.StatusConflict, "transaction_pending", err.Error(), details)
	}
	var pe domain.ProviderError
	if errors.As(err, &pe) {
		var apiErr *identity.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return newAPIError(http.StatusUnauthorized, "identity_rejected", err.Error(), details)
		}
		return newAPIError(http.StatusBadGateway, "identity_unavailable", err.Error(), details)
	}
	var ce domain.ChainError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadGateway, "chain_error", err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	docPath := path.Join(basePath, "openapi.json")
	r.Get(docPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
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
    <title>Clucko Gateway Docs</title>
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

type sessionOutput struct {
	Body SessionResponse `json:"body"`
}

func registerSession(api huma.API, c *authflow.Controller) {
	respond := func(s domain.Session, err error) (*sessionOutput, error) {
		if err != nil {
			return nil, handleErrorWithDetails(err, map[string]any{"session": sessionResponse(s, c.CodeLength())})
		}
		return &sessionOutput{Body: sessionResponse(s, c.CodeLength())}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current login session",
		Tags:        []string{"session"},
	}, func(ctx context.Context, _ *struct{}) (*sessionOutput, error) {
		return respond(c.Session(), nil)
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-code",
		Method:      http.MethodPost,
		Path:        "/auth/code",
		Summary:     "Send a one-time code to an email",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body RequestCodeRequest `json:"body"`
	}) (*sessionOutput, error) {
		return respond(c.RequestCode(ctx, input.Body.Email))
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-code",
		Method:      http.MethodPost,
		Path:        "/auth/verify",
		Summary:     "Submit the one-time code",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body VerifyCodeRequest `json:"body"`
	}) (*sessionOutput, error) {
		return respond(c.SubmitCode(ctx, input.Body.Code))
	})

	huma.Register(api, huma.Operation{
		OperationID: "auth-back",
		Method:      http.MethodPost,
		Path:        "/auth/back",
		Summary:     "Return from code entry to email entry",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*sessionOutput, error) {
		return respond(c.Back(ctx))
	})

	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/auth/logout",
		Summary:     "End the session",
		Tags:        []string{"session"},
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*sessionOutput, error) {
		return respond(c.Logout(ctx))
	})
}

type transactionOutput struct {
	Body TransactionResponse `json:"body"`
}

func registerMissions(api huma.API, l *ledger.Client, defaultToken common.Address) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "Cached missions, optionally refreshed from chain",
		Tags:        []string{"missions"},
	}, func(ctx context.Context, input *struct {
		Refresh bool `query:"refresh" doc:"Read getMissions before answering"`
	}) (*struct {
		Body MissionsResponse `json:"body"`
	}, error) {
		var res ledger.FetchResult
		if input.Refresh {
			res = l.FetchMissions(ctx)
		} else {
			res = l.Snapshot()
		}
		return &struct {
			Body MissionsResponse `json:"body"`
		}{Body: missionsResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mission-fee",
		Method:      http.MethodGet,
		Path:        "/missions/fee",
		Summary:     "Current createMission fee",
		Tags:        []string{"missions"},
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body FeeResponse `json:"body"`
	}, error) {
		fee, err := l.MissionFee(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeeResponse `json:"body"`
		}{Body: FeeResponse{Fee: fee.String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-mission",
		Method:      http.MethodPost,
		Path:        "/missions",
		Summary:     "Submit a createMission transaction and wait for it",
		Tags:        []string{"missions"},
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body CreateMissionRequest `json:"body"`
	}) (*transactionOutput, error) {
		draft := domain.MissionDraft{
			Name:           input.Body.Name,
			Description:    input.Body.Description,
			TargetContract: input.Body.TargetContract,
			RewardAmount:   input.Body.RewardAmount,
			RewardToken:    input.Body.RewardToken,
		}
		if strings.TrimSpace(draft.RewardToken) == "" && defaultToken != (common.Address{}) {
			draft.RewardToken = defaultToken.Hex()
		}
		in, err := draft.Validate()
		if err != nil {
			return nil, handleError(err)
		}
		// The write outlives a dropped client connection; progress stays
		// visible through GET /transaction.
		tx, err := l.CreateMission(context.WithoutCancel(ctx), in)
		if err != nil {
			return nil, handleErrorWithDetails(err, map[string]any{"transaction": transactionResponse(tx)})
		}
		return &transactionOutput{Body: transactionResponse(tx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-transaction",
		Method:      http.MethodGet,
		Path:        "/transaction",
		Summary:     "State of the latest mission write",
		Tags:        []string{"missions"},
	}, func(ctx context.Context, _ *struct{}) (*transactionOutput, error) {
		return &transactionOutput{Body: transactionResponse(l.Transaction())}, nil
	})
}

func registerEvents(api huma.API, r *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent journal events",
		Tags:        []string{"journal"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" doc:"Exact type or prefix wildcard such as transaction.*"`
		EntityKind string `query:"entity_kind" doc:"session or transaction"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if r == nil {
			return nil, newAPIError(http.StatusNotFound, "journal_disabled", "activity journal is disabled", nil)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		filter := repo.EventFilter{Type: input.Type, EntityKind: input.EntityKind, EntityID: input.EntityID}
		items, err := r.LatestEventsFrom(ctx, limit+1, cursorID, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvent(api huma.API, r *repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get one journal event",
		Tags:        []string{"journal"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if r == nil {
			return nil, newAPIError(http.StatusNotFound, "journal_disabled", "activity journal is disabled", nil)
		}
		evt, err := r.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})
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
