// Package http provides an HTTP channel that triggers actions and exposes
// store state as JSON.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/artpar/conveyr/adapters/auth"
	"github.com/artpar/conveyr/core/openapi"
	"github.com/artpar/conveyr/core/registry"
	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/store"
)

// maxPayloadBytes caps action request bodies.
const maxPayloadBytes = 1 << 20

// ErrorResponseBody is the body of every error response.
type ErrorResponseBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code and a message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// InvocationResponse reports a settled action invocation.
type InvocationResponse struct {
	Action   string `json:"action"`
	Instance uint64 `json:"instance"`
}

// FieldResponse is a store field's value at a revision.
type FieldResponse struct {
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Revision uint64 `json:"revision"`
}

// StoreResponse lists a store's fields.
type StoreResponse struct {
	ID     string          `json:"id"`
	Fields []FieldResponse `json:"fields"`
}

// Options configures the channel.
type Options struct {
	// Addr to listen on. Empty means the handler is mounted elsewhere.
	Addr string

	Logger zerolog.Logger

	// MetricsHandler is served at MetricsPath when both are set.
	MetricsHandler http.Handler
	MetricsPath    string

	// WaitTimeout bounds how long POST /actions/{id} waits for the
	// invocation to settle. Zero leaves it to the handler timeouts.
	WaitTimeout time.Duration

	// Auth, when set, requires a bearer token on /actions and /stores.
	Auth *auth.TokenService

	// OpenAPI serves the generated document at /.well-known/openapi.json
	// and the Swagger UI under /swagger/.
	OpenAPI bool
}

// Channel implements the HTTP channel for a runtime.
type Channel struct {
	router  chi.Router
	runtime *runtime.Runtime
	opts    Options
	logger  zerolog.Logger
	server  *http.Server
}

// New creates a new HTTP channel.
func New(rt *runtime.Runtime, opts Options) *Channel {
	c := &Channel{
		router:  chi.NewRouter(),
		runtime: rt,
		opts:    opts,
		logger:  opts.Logger.With().Str("channel", "http").Logger(),
	}

	c.router.Use(middleware.RequestID)
	c.router.Use(middleware.RealIP)
	c.router.Use(NewLoggingMiddleware(c.logger, opts.MetricsPath))
	c.router.Use(middleware.Recoverer)

	c.router.Get("/health", c.handleHealth)
	if opts.MetricsHandler != nil && opts.MetricsPath != "" {
		c.router.Handle(opts.MetricsPath, opts.MetricsHandler)
	}

	if opts.OpenAPI {
		c.router.Get("/.well-known/openapi.json", c.handleOpenAPI)
		c.router.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/.well-known/openapi.json"),
		))
	}

	c.router.Route("/actions", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(BearerAuth(opts.Auth))
		}
		r.Get("/", c.handleListActions)
		r.Post("/{id}", c.handleInvoke)
	})
	c.router.Route("/stores", func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(BearerAuth(opts.Auth))
		}
		r.Get("/", c.handleListStores)
		r.Get("/{id}", c.handleGetStore)
		r.Get("/{id}/fields/{name}", c.handleGetField)
	})

	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Handler returns the HTTP handler.
func (c *Channel) Handler() http.Handler {
	return c.router
}

// Start starts the HTTP server in the background.
func (c *Channel) Start(ctx context.Context) error {
	// Only start if addr is set (standalone mode)
	if c.opts.Addr == "" {
		return nil
	}

	c.server = &http.Server{
		Addr:              c.opts.Addr,
		Handler:           c.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Msg("http server error")
		}
	}()

	c.logger.Info().Str("addr", c.opts.Addr).Msg("http channel listening")
	return nil
}

// Stop gracefully stops the HTTP server.
func (c *Channel) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

func (c *Channel) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleOpenAPI renders the document for the runtime's current
// declarations.
func (c *Channel) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	gen := openapi.NewGenerator(c.runtime)
	if c.opts.Auth != nil {
		gen.RequireBearerAuth()
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, gen.Generate())
}

func (c *Channel) handleListActions(w http.ResponseWriter, r *http.Request) {
	actions := c.runtime.Actions()
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"actions": ids})
}

// handleInvoke decodes the JSON body as the payload, invokes the action
// and waits for it to settle.
func (c *Channel) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if claims, ok := ClaimsFromContext(r.Context()); ok && !claims.Allows(id) {
		writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("%v: %s", auth.ErrActionDenied, id))
		return
	}

	payload, err := decodePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ctx := r.Context()
	if c.opts.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.WaitTimeout)
		defer cancel()
	}

	inv, err := c.runtime.Invoke(ctx, id, payload)
	if err != nil {
		c.writeInvokeError(w, r, id, err)
		return
	}
	if err := inv.Wait(ctx); err != nil {
		c.writeInvokeError(w, r, id, err)
		return
	}

	writeJSON(w, http.StatusOK, InvocationResponse{Action: id, Instance: inv.ID})
}

func (c *Channel) writeInvokeError(w http.ResponseWriter, r *http.Request, id string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		c.logger.Warn().
			Err(err).
			Str("action", id).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("action failed")
	}
	writeError(w, status, code, err.Error())
}

func (c *Channel) handleListStores(w http.ResponseWriter, r *http.Request) {
	stores := c.runtime.Stores()
	out := make([]StoreResponse, 0, len(stores))
	for _, st := range stores {
		out = append(out, storeResponse(st))
	}
	writeJSON(w, http.StatusOK, map[string][]StoreResponse{"stores": out})
}

func (c *Channel) handleGetStore(w http.ResponseWriter, r *http.Request) {
	st, err := c.runtime.Store(chi.URLParam(r, "id"))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, storeResponse(st))
}

func (c *Channel) handleGetField(w http.ResponseWriter, r *http.Request) {
	st, err := c.runtime.Store(chi.URLParam(r, "id"))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	f, err := st.Field(chi.URLParam(r, "name"))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fieldResponse(f))
}

func storeResponse(st *store.Store) StoreResponse {
	fields := st.Fields()
	resp := StoreResponse{ID: st.ID(), Fields: make([]FieldResponse, 0, len(fields))}
	for _, f := range fields {
		resp.Fields = append(resp.Fields, fieldResponse(f))
	}
	return resp
}

func fieldResponse(f *store.Field) FieldResponse {
	value, rev := f.Get()
	return FieldResponse{Name: f.Name(), Value: value, Revision: rev}
}

// decodePayload reads the JSON body. An empty body is a nil payload.
func decodePayload(r *http.Request) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return payload, nil
}

// classify maps runtime errors to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrPayloadValidationFailed):
		return http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, store.ErrNoSuchField):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrWriteAccessDenied):
		return http.StatusForbidden, "write_access_denied"
	case errors.Is(err, service.ErrHandlerTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	default:
		return http.StatusInternalServerError, "handler_error"
	}
}

// writeJSON encodes before writing the header; an encoding failure is
// answered with a 500.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		json.NewEncoder(&buf).Encode(ErrorResponseBody{Error: ErrorDetail{
			Code:    "encode_error",
			Message: err.Error(),
		}})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponseBody{Error: ErrorDetail{Code: code, Message: message}})
}

// NewLoggingMiddleware logs HTTP requests at debug level, skipping health
// checks and the metrics path.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if strings.HasPrefix(r.URL.Path, "/health") || (metricsPath != "" && r.URL.Path == metricsPath) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
