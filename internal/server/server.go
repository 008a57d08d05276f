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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"copyauction/internal/domain"
	"copyauction/internal/engine"
	"copyauction/internal/notify"
	"copyauction/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Hub, when set, is served at WebSocketPath outside the authenticated API.
	Hub           *notify.Hub
	WebSocketPath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bid_too_low"`
	Message string         `json:"message" example:"bid 90 must exceed current price 100"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"tx_hash\":\"0xabc\"}"`
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

// New returns an HTTP handler exposing the auction API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Hub != nil {
		wsPath := cfg.WebSocketPath
		if wsPath == "" {
			wsPath = "/ws/auctions"
		}
		router.Handle(wsPath, cfg.Hub)
	}
	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				bodyBytes, _ := io.ReadAll(r.Body)
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
				ctx := context.WithValue(r.Context(), requestKey{}, r)
				ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
		r.Use(newAuthMiddleware(basePath, cfg.Auth))
		hcfg := huma.DefaultConfig("Copyright Auction API", "0.1.0")
		hcfg.OpenAPIPath = "/openapi"
		hcfg.DocsPath = "" // custom Swagger UI below
		api := humachi.New(r, hcfg)
		group := huma.NewGroup(api, basePath)

		registerDocs(r, basePath)
		registerHealth(group)
		registerAuctions(group, cfg.Engine)
		registerWorks(group, cfg.Engine)
		registerEvents(group, cfg.Engine)
		registerReconciliations(group, cfg.Engine)
		registerOpenAPI(r, api, basePath)
	})

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
	if err == nil {
		return nil
	}
	var pe engine.PreconditionError
	if errors.As(err, &pe) {
		return newAPIError(pe.HTTPStatus(), pe.Code, pe.Message, nil)
	}
	var le engine.LedgerError
	if errors.As(err, &le) {
		details := map[string]any{"op": le.Op, "status": le.Status}
		if le.TxHash != "" {
			details["tx_hash"] = le.TxHash
		}
		return newAPIError(http.StatusUnprocessableEntity, "ledger_rejected", err.Error(), details)
	}
	var ue engine.UnknownOutcomeError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusGatewayTimeout, "ledger_outcome_unknown", err.Error(), map[string]any{"op": ue.Op, "op_id": ue.OpID})
	}
	var re engine.ReconciliationError
	if errors.As(err, &re) {
		return newAPIError(http.StatusInternalServerError, "reconciliation_pending", err.Error(), map[string]any{"op": re.Op, "op_id": re.OpID, "tx_hash": re.TxHash})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "only confirmed ops"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
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
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Copyright Auction API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;; the token subject is the user email.
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

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
	http.StatusGatewayTimeout,
}

func registerAuctions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-auction",
		Method:        http.MethodPost,
		Path:          "/auctions",
		Summary:       "Start an auction for a work",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body StartAuctionRequest `json:"body"`
	}) (*struct {
		Body AuctionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.StartAuction(ctx, engine.StartAuctionRequest{
			Email:           email,
			WorkID:          input.Body.WorkID,
			StartPrice:      input.Body.StartPrice,
			DurationSeconds: input.Body.DurationSeconds,
			Credential:      input.Body.Credential,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuctionResponse `json:"body"`
		}{Body: AuctionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-auctions",
		Method:      http.MethodGet,
		Path:        "/auctions",
		Summary:     "List active auctions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.AuctionSummary `json:"body"`
	}, error) {
		items, err := e.ListActiveAuctions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.AuctionSummary{}
		}
		return &struct {
			Body []domain.AuctionSummary `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "place-bid",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/bids",
		Summary:     "Place a bid",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AuctionID int64           `path:"auction_id"`
		Body      PlaceBidRequest `json:"body"`
	}) (*struct {
		Body AuctionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.PlaceBid(ctx, engine.PlaceBidRequest{
			Email:      email,
			AuctionID:  input.AuctionID,
			Amount:     input.Body.Amount,
			Credential: input.Body.Credential,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuctionResponse `json:"body"`
		}{Body: AuctionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-auction",
		Method:      http.MethodPost,
		Path:        "/auctions/{auction_id}/end",
		Summary:     "End an auction and transfer the work",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		AuctionID int64              `path:"auction_id"`
		Body      *EndAuctionRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body AuctionResponse `json:"body"`
	}, error) {
		email, authErr := emailFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := engine.EndAuctionRequest{Email: email, AuctionID: input.AuctionID}
		if input.Body != nil {
			req.Credential = input.Body.Credential
		}
		a, err := e.EndAuction(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuctionResponse `json:"body"`
		}{Body: AuctionResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auction-ledger-status",
		Method:      http.MethodGet,
		Path:        "/auctions/{auction_id}/ledger",
		Summary:     "Compare the ledger's view of an auction with the projection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		AuctionID int64 `path:"auction_id"`
	}) (*struct {
		Body engine.LedgerStatus `json:"body"`
	}, error) {
		st, err := e.LedgerAuctionStatus(ctx, input.AuctionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.LedgerStatus `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/auctions/{auction_id}/bids",
		Summary:     "List accepted bids in ledger order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AuctionID int64 `path:"auction_id"`
	}) (*struct {
		Body []domain.Bid `json:"body"`
	}, error) {
		if _, err := e.Repo.GetAuction(ctx, input.AuctionID); err != nil {
			return nil, handleError(err)
		}
		bids, err := e.Repo.ListBids(ctx, input.AuctionID)
		if err != nil {
			return nil, handleError(err)
		}
		if bids == nil {
			bids = []domain.Bid{}
		}
		return &struct {
			Body []domain.Bid `json:"body"`
		}{Body: bids}, nil
	})
}

func registerWorks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "work-auction",
		Method:      http.MethodGet,
		Path:        "/works/{work_id}/auction",
		Summary:     "Active auction of a work as seen by the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkID int64 `path:"work_id"`
	}) (*struct {
		Body domain.AuctionDetail `json:"body"`
	}, error) {
		viewer, _ := emailFromContext(ctx)
		d, err := e.GetAuctionDetail(ctx, input.WorkID, viewer)
		if err != nil {
			return nil, handleError(err)
		}
		if d.Bids == nil {
			d.Bids = []domain.BidView{}
		}
		return &struct {
			Body domain.AuctionDetail `json:"body"`
		}{Body: d}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"auction,ledger_op"`
		EntityID   string `query:"entity_id"`
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
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
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

func registerReconciliations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ledger-ops",
		Method:      http.MethodGet,
		Path:        "/reconciliations",
		Summary:     "List journaled ledger operations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"submitted,confirmed,reconciled,failed,unknown"`
		Kind   string `query:"kind" enum:"start_auction,place_bid,end_auction"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.LedgerOp `json:"body"`
	}, error) {
		ops, err := e.Repo.ListLedgerOps(ctx, repo.LedgerOpFilters{
			Status: domain.LedgerOpStatus(input.Status),
			Kind:   domain.LedgerOpKind(input.Kind),
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if ops == nil {
			ops = []domain.LedgerOp{}
		}
		return &struct {
			Body []domain.LedgerOp `json:"body"`
		}{Body: ops}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-reconciliation",
		Method:      http.MethodPost,
		Path:        "/reconciliations/run",
		Summary:     "Replay confirmed ledger operations into the projection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body *RunReconcileRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body RunReconcileResponse `json:"body"`
	}, error) {
		if _, authErr := emailFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var req RunReconcileRequest
		if input.Body != nil {
			req = *input.Body
		}
		var resp RunReconcileResponse
		if req.OpID != "" {
			op, err := e.ReconcileOp(ctx, req.OpID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Op = &op
			resp.Report = engine.ReconcileReport{Checked: 1, Reconciled: 1}
		} else {
			report, err := e.ReconcilePending(ctx, req.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Report = report
		}
		return &struct {
			Body RunReconcileResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
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
