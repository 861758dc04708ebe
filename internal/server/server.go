package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"credchain/internal/address"
	"credchain/internal/advisory"
	"credchain/internal/amount"
	"credchain/internal/apperr"
	"credchain/internal/domain"
	"credchain/internal/engine"
	"credchain/internal/repo"
	"credchain/internal/skill"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Advisory is optional; nil disables remote suggestions.
	Advisory *advisory.Client
	Logger   zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"CONTRACT_STATUS"`
	Message string         `json:"message" example:"contract status is Active; requires Funded or InProgress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"current\":\"Active\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// handlers carries what every route needs.
type handlers struct {
	e        engine.Engine
	advisory *advisory.Client
}

func (h handlers) decimals() int32 { return h.e.Config.Token.Decimals }

func (h handlers) now() time.Time {
	if h.e.Now != nil {
		return h.e.Now().UTC()
	}
	return time.Now().UTC()
}

// New returns an HTTP handler exposing the CredChain API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Engine.Config == nil {
		return nil, errors.New("engine config is required")
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

	adv := cfg.Advisory
	if adv == nil {
		adv = advisory.New("", cfg.Engine.Config.Token.Decimals, cfg.Logger)
	}
	h := handlers{e: cfg.Engine, advisory: adv}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("CredChain API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, h)
	registerDerive(group, h)
	registerContracts(group, h)
	registerDisputes(group, h)
	registerCredentials(group, h)
	registerJobs(group, h)
	registerWallets(group, h)
	registerRoles(group, h)
	registerStats(group, h)
	registerEvents(group, h)
	registerStream(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestLogger attaches a request-scoped logger and writes one line per
// request once the response is done.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			l := base.With().Str("request_id", id).Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := l.Info()
			if status >= http.StatusInternalServerError {
				ev = l.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
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

// handleError maps engine errors onto the envelope. Kinds decide the status;
// the code and metadata pass through unchanged.
func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		var details map[string]any
		if len(ae.Metadata) > 0 {
			details = make(map[string]any, len(ae.Metadata))
			for k, v := range ae.Metadata {
				details[k] = v
			}
		}
		if ae.Kind == apperr.KindResourceExhaustion || ae.Kind == apperr.KindInternal {
			zerolog.Ctx(ctx).Error().Err(err).Str("code", string(ae.Code)).Msg("operation failed")
		}
		return newAPIError(ae.Kind.HTTPStatus(), string(ae.Code), err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, string(apperr.CodeNotFound), err.Error(), nil)
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg("unhandled error")
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func badRequest(code apperr.Code, format string, args ...any) huma.StatusError {
	return newAPIError(http.StatusBadRequest, string(code), fmt.Sprintf(format, args...), nil)
}

func parseIdentity(field, s string) (address.Address, huma.StatusError) {
	a, err := address.Parse(strings.TrimSpace(s))
	if err != nil {
		return address.Address{}, badRequest(apperr.CodeInvalidArgument, "%s: %v", field, err)
	}
	return a, nil
}

func parseSkill(s string) (skill.Category, huma.StatusError) {
	c, err := skill.Parse(s)
	if err != nil {
		return 0, badRequest(apperr.CodeInvalidArgument, "%v", err)
	}
	return c, nil
}

func (h handlers) parseAmount(field, s string) (uint64, huma.StatusError) {
	v, err := amount.Parse(s, h.decimals())
	if err != nil {
		return 0, badRequest(apperr.CodeInvalidAmount, "%s: %v", field, err)
	}
	return v, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once    sync.Once
		spec    []byte
		specErr error
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas)
			spec, specErr = json.Marshal(oas)
		})
		if specErr != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal", "render openapi document", nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
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

func applyAuthSecurity(oas *huma.OpenAPI) {
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	oas.Security = []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>CredChain API Docs</title>
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

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles, err := h.e.Roles(ctx, p.Identity)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			names = append(names, string(r))
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{Identity: p.Identity.String(), Source: p.Source, Roles: names}}, nil
	})
}

func registerDerive(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "derive-address",
		Method:      http.MethodPost,
		Path:        "/addresses/derive",
		Summary:     "Derive a resource address from its business keys",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DeriveRequest `json:"body"`
	}) (*struct {
		Body DeriveResponse `json:"body"`
	}, error) {
		b := input.Body
		p := engine.DeriveParams{ContractID: b.ContractID, JobID: b.JobID, Nonce: b.Nonce}
		if b.Identity != "" {
			id, herr := parseIdentity("identity", b.Identity)
			if herr != nil {
				return nil, herr
			}
			p.Identity = id
		}
		if b.Skill != "" {
			c, herr := parseSkill(b.Skill)
			if herr != nil {
				return nil, herr
			}
			p.Skill = c
		}
		pda, err := h.e.Derive(b.Kind, p)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body DeriveResponse `json:"body"`
		}{Body: DeriveResponse{Kind: b.Kind, Address: pda.Address.String(), Bump: pda.Bump}}, nil
	})
}

func registerWallets(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "credit-wallet",
		Method:        http.MethodPost,
		Path:          "/wallets/{owner}/credit",
		Summary:       "Credit tokens to a wallet (platform admin)",
		DefaultStatus: http.StatusOK,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		Body  CreditRequest
	}) (*struct {
		Body domain.Balance `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		owner, herr := parseIdentity("owner", input.Owner)
		if herr != nil {
			return nil, herr
		}
		amt, herr := h.parseAmount("amount", input.Body.Amount)
		if herr != nil {
			return nil, herr
		}
		var token address.Address
		if input.Body.Token != "" {
			if token, herr = parseIdentity("token", input.Body.Token); herr != nil {
				return nil, herr
			}
		}
		bal, err := h.e.CreditWallet(ctx, owner, token, amt, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Balance `json:"body"`
		}{Body: bal}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-wallet",
		Method:      http.MethodGet,
		Path:        "/wallets/{owner}",
		Summary:     "Wallet balances",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*struct {
		Body WalletResponse `json:"body"`
	}, error) {
		owner, herr := parseIdentity("owner", input.Owner)
		if herr != nil {
			return nil, herr
		}
		bals, err := h.e.WalletBalances(ctx, owner)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body WalletResponse `json:"body"`
		}{Body: WalletResponse{Owner: owner.String(), Balances: nonNilSlice(bals)}}, nil
	})
}

func registerRoles(api huma.API, h handlers) {
	change := func(grant bool) func(context.Context, *struct{ Body RoleRequest }) (*struct{}, error) {
		return func(ctx context.Context, input *struct{ Body RoleRequest }) (*struct{}, error) {
			actor, herr := actorFromContext(ctx)
			if herr != nil {
				return nil, herr
			}
			id, herr := parseIdentity("identity", input.Body.Identity)
			if herr != nil {
				return nil, herr
			}
			role, err := domain.ParseRole(input.Body.Role)
			if err != nil {
				return nil, badRequest(apperr.CodeInvalidArgument, "%v", err)
			}
			if grant {
				err = h.e.GrantRole(ctx, id, role, actor)
			} else {
				err = h.e.RevokeRole(ctx, id, role, actor)
			}
			if err != nil {
				return nil, handleError(ctx, err)
			}
			return &struct{}{}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/roles",
		Summary:       "Grant a platform role (platform admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, change(true))
	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodDelete,
		Path:          "/roles",
		Summary:       "Revoke a platform role (platform admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, change(false))
}

func registerStats(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Platform counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		s, err := h.e.Stats(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.e.Repo.LatestEvents(ctx, limit+1, cursorID, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
