package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/common/httputil"
	"github.com/mealplanner/importer/internal/common/requestid"
	"github.com/mealplanner/importer/internal/importer"
	"github.com/mealplanner/importer/internal/recipe"
	"github.com/mealplanner/importer/internal/ssrf"
)

const (
	RouteImport   = "/api/v1/recipes/import"
	RouteValidate = "/api/v1/urls/validate"
	RouteHealth   = "/health"

	serverName = "RecipeImporter/1.0"
)

// Client-facing messages. Rejection details stay in the logs.
const (
	msgRejected      = "Failed to import recipe: URL not allowed"
	msgNoRecipe      = "No recipe found at URL"
	msgFetchFailed   = "Failed to fetch recipe page"
	msgTimeout       = "Recipe import timed out"
	msgInternal      = "Internal server error"
	msgInvalidBody   = "Request body must be JSON with a url field"
	msgURLRequired   = "url is required"
	msgMethod        = "Method not allowed"
	msgNotFound      = "Endpoint not found"
	msgQueryRequired = "url query parameter is required"
)

// Importer is the service behind the API. *importer.Service implements it.
type Importer interface {
	Import(ctx context.Context, rawURL string) (*importer.Result, error)
	Validate(ctx context.Context, rawURL string) ssrf.Result
}

// Metrics receives one event per request.
type Metrics interface {
	RecordHTTPRequest(route string, statusCode int)
}

type nopMetrics struct{}

func (nopMetrics) RecordHTTPRequest(string, int) {}

type importRequest struct {
	URL string `json:"url"`
}

// ImportResponse is the data of a successful import.
type ImportResponse struct {
	Recipe *recipe.Recipe `json:"recipe"`
	URL    string         `json:"url"`
	Cached bool           `json:"cached"`
}

// ValidateResponse is the data of a validation request.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	URL   string `json:"url,omitempty"`
}

type Server struct {
	importer Importer
	metrics  Metrics
	timeout  time.Duration
	logger   *zap.Logger
}

// NewServer creates the API handler. timeout bounds each import.
func NewServer(imp Importer, m Metrics, timeout time.Duration, logger *zap.Logger) *Server {
	if m == nil {
		m = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		importer: imp,
		metrics:  m,
		timeout:  timeout,
		logger:   logger,
	}
}

// NewFastHTTPServer wraps handler with the configured limits.
func NewFastHTTPServer(handler fasthttp.RequestHandler, cfg configtypes.ServerConfig) *fasthttp.Server {
	timeout := time.Duration(cfg.Timeout)
	return &fasthttp.Server{
		Handler:                      handler,
		Name:                         serverName,
		ReadTimeout:                  timeout,
		WriteTimeout:                 timeout,
		IdleTimeout:                  timeout,
		MaxRequestBodySize:           cfg.MaxRequestBodySize,
		DisablePreParseMultipartForm: true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
	}
}

func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.Attach(ctx)
	logger := s.requestLogger(ctx)

	path := string(ctx.Path())
	route := "not_found"
	defer func() {
		s.metrics.RecordHTTPRequest(route, ctx.Response.StatusCode())
	}()

	switch path {
	case RouteHealth:
		route = "health"
		s.handleHealth(ctx, requestID)
	case RouteImport:
		route = "import"
		if !ctx.IsPost() {
			s.methodNotAllowed(ctx, requestID, logger, fasthttp.MethodPost)
			return
		}
		s.handleImport(ctx, requestID, logger)
	case RouteValidate:
		route = "validate"
		if !ctx.IsGet() {
			s.methodNotAllowed(ctx, requestID, logger, fasthttp.MethodGet)
			return
		}
		s.handleValidate(ctx, requestID, logger)
	default:
		logger.Debug("Not found", zap.String("path", path))
		httputil.JSONError(ctx, requestID, msgNotFound, fasthttp.StatusNotFound)
	}
}

// requestLogger tags entries with the request ID stored on ctx.
func (s *Server) requestLogger(ctx *fasthttp.RequestCtx) *zap.Logger {
	return s.logger.With(zap.String("request_id", requestid.From(ctx)))
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx, requestID string) {
	httputil.JSONData(ctx, requestID, map[string]string{"status": "ok"}, fasthttp.StatusOK)
}

// handleImport handles POST /api/v1/recipes/import
func (s *Server) handleImport(ctx *fasthttp.RequestCtx, requestID string, logger *zap.Logger) {
	var req importRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		logger.Debug("Invalid import request body", zap.Error(err))
		httputil.JSONError(ctx, requestID, msgInvalidBody, fasthttp.StatusBadRequest)
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		httputil.JSONError(ctx, requestID, msgURLRequired, fasthttp.StatusBadRequest)
		return
	}

	importCtx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		importCtx, cancel = context.WithTimeout(importCtx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.importer.Import(importCtx, rawURL)
	if err != nil {
		status, message := errorResponse(err)
		logger.Info("Recipe import failed",
			zap.String("url", rawURL),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		httputil.JSONError(ctx, requestID, message, status)
		return
	}

	logger.Info("Recipe import completed",
		zap.String("url", res.URL),
		zap.Bool("cached", res.Cached),
		zap.Duration("duration", time.Since(start)))
	httputil.JSONData(ctx, requestID, ImportResponse{
		Recipe: res.Recipe,
		URL:    res.URL,
		Cached: res.Cached,
	}, fasthttp.StatusOK)
}

// handleValidate handles GET /api/v1/urls/validate?url=
func (s *Server) handleValidate(ctx *fasthttp.RequestCtx, requestID string, logger *zap.Logger) {
	rawURL := strings.TrimSpace(string(ctx.QueryArgs().Peek("url")))
	if rawURL == "" {
		httputil.JSONError(ctx, requestID, msgQueryRequired, fasthttp.StatusBadRequest)
		return
	}

	validateCtx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		validateCtx, cancel = context.WithTimeout(validateCtx, s.timeout)
		defer cancel()
	}

	res := s.importer.Validate(validateCtx, rawURL)
	data := ValidateResponse{Valid: res.Valid}
	if res.Valid {
		data.URL = res.URL.String()
	}

	logger.Debug("URL validated",
		zap.String("url", rawURL),
		zap.Bool("valid", res.Valid),
		zap.String("reason", res.Reason))
	httputil.Write(ctx, httputil.APIResponse{
		Success:   true,
		Message:   res.Reason,
		Data:      data,
		RequestID: requestID,
	}, fasthttp.StatusOK)
}

func (s *Server) methodNotAllowed(ctx *fasthttp.RequestCtx, requestID string, logger *zap.Logger, allow string) {
	logger.Debug("Method not allowed",
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())))
	ctx.Response.Header.Set(fasthttp.HeaderAllow, allow)
	httputil.JSONError(ctx, requestID, msgMethod, fasthttp.StatusMethodNotAllowed)
}

// errorResponse maps an import error to its status code and public message.
func errorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, importer.ErrURLRejected):
		return fasthttp.StatusUnprocessableEntity, msgRejected
	case errors.Is(err, importer.ErrNoRecipe):
		return fasthttp.StatusNotFound, msgNoRecipe
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout, msgTimeout
	case errors.Is(err, importer.ErrFetchFailed):
		return fasthttp.StatusBadGateway, msgFetchFailed
	default:
		return fasthttp.StatusInternalServerError, msgInternal
	}
}
