package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/conveyr/adapters/auth"
	"github.com/artpar/conveyr/adapters/idgen"
	"github.com/artpar/conveyr/core/openapi"
	"github.com/artpar/conveyr/core/runtime"
	"github.com/artpar/conveyr/core/schema"
	"github.com/artpar/conveyr/core/service"
	"github.com/artpar/conveyr/core/types"
)

// newCounterRuntime builds a runtime with a "counts" store, a "counter"
// service and an "increment" action taking a number.
func newCounterRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()

	rt := runtime.New(runtime.Config{Logger: zerolog.Nop(), TokenIDs: idgen.NewSequential("tok_")})

	sb, err := rt.CreateStore("counts")
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	counts, err := sb.DefinesField("count", schema.Optional(schema.Primitive{Kind: types.Number}, float64(0))).Build()
	if err != nil {
		t.Fatalf("Build store: %v", err)
	}

	svcB, err := rt.CreateService("counter")
	if err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	_, err = svcB.
		UpdatesStores(counts).
		ExposesEndpoint("increment", func(f *service.Frame) error {
			by := f.Payload().(float64)
			return f.Update("counts", "count", func(v any) any { return v.(float64) + by })
		}, "token", "payload").
		ExposesEndpoint("explode", func(*service.Frame) error {
			return errors.New("kaboom")
		}).
		Build()
	if err != nil {
		t.Fatalf("Build service: %v", err)
	}

	for _, decl := range []struct {
		id, ref string
		spec    schema.Spec
	}{
		{"increment", "counter.increment", schema.Primitive{Kind: types.Number}},
		{"explode", "counter.explode", nil},
	} {
		ab, err := rt.CreateAction(decl.id)
		if err != nil {
			t.Fatalf("CreateAction(%s): %v", decl.id, err)
		}
		if _, err := ab.AcceptsPayload(decl.spec).CallsRef(decl.ref, nil).Build(); err != nil {
			t.Fatalf("Build action %s: %v", decl.id, err)
		}
	}
	return rt
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	c := New(nil, Options{Logger: zerolog.Nop()})
	if c == nil {
		t.Fatal("New should return non-nil channel")
	}
	if c.router == nil {
		t.Error("router should be initialized")
	}
	if c.Name() != "http" {
		t.Errorf("Name() = %q, want %q", c.Name(), "http")
	}
	if c.Handler() == nil {
		t.Error("Handler() should return non-nil handler")
	}
}

func TestChannel_Start_NoAddr(t *testing.T) {
	c := New(nil, Options{Logger: zerolog.Nop()})
	if err := c.Start(context.Background()); err != nil {
		t.Errorf("Start() with no addr should not error: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() with no server should not error: %v", err)
	}
}

func TestChannel_Health(t *testing.T) {
	c := New(nil, Options{Logger: zerolog.Nop()})
	rec := do(t, c.Handler(), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestChannel_InvokeAction(t *testing.T) {
	rt := newCounterRuntime(t)
	c := New(rt, Options{Logger: zerolog.Nop(), WaitTimeout: time.Second})

	for i := 0; i < 2; i++ {
		rec := do(t, c.Handler(), http.MethodPost, "/actions/increment", "3")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp InvocationResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Action != "increment" || resp.Instance == 0 {
			t.Errorf("unexpected response %+v", resp)
		}
	}

	rec := do(t, c.Handler(), http.MethodGet, "/stores/counts/fields/count", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var field FieldResponse
	if err := json.NewDecoder(rec.Body).Decode(&field); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if field.Value != float64(6) {
		t.Errorf("Value = %v, want 6", field.Value)
	}
	if field.Revision != 2 {
		t.Errorf("Revision = %d, want 2", field.Revision)
	}
}

func TestChannel_InvokeErrors(t *testing.T) {
	rt := newCounterRuntime(t)
	c := New(rt, Options{Logger: zerolog.Nop()})

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"invalid payload", "/actions/increment", `"three"`, http.StatusBadRequest, "invalid_payload"},
		{"malformed json", "/actions/increment", `{`, http.StatusBadRequest, "bad_request"},
		{"unknown action", "/actions/missing", `1`, http.StatusNotFound, "not_found"},
		{"handler error", "/actions/explode", ``, http.StatusInternalServerError, "handler_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, c.Handler(), http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			var resp ErrorResponseBody
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Error.Code, tt.wantErr)
			}
		})
	}
}

func TestChannel_Stores(t *testing.T) {
	rt := newCounterRuntime(t)
	c := New(rt, Options{Logger: zerolog.Nop()})

	rec := do(t, c.Handler(), http.MethodGet, "/stores/counts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var st StoreResponse
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.ID != "counts" || len(st.Fields) != 1 || st.Fields[0].Name != "count" {
		t.Errorf("unexpected store %+v", st)
	}
	if st.Fields[0].Value != float64(0) {
		t.Errorf("initial value = %v, want 0", st.Fields[0].Value)
	}

	rec = do(t, c.Handler(), http.MethodGet, "/stores", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	tests := []struct {
		name string
		path string
	}{
		{"unknown store", "/stores/missing"},
		{"unknown field", "/stores/counts/fields/missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, c.Handler(), http.MethodGet, tt.path, "")
			if rec.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
			}
		})
	}
}

func TestChannel_ListActions(t *testing.T) {
	rt := newCounterRuntime(t)
	c := New(rt, Options{Logger: zerolog.Nop()})

	rec := do(t, c.Handler(), http.MethodGet, "/actions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string][]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := strings.Join(resp["actions"], ","); got != "increment,explode" {
		t.Errorf("actions = %q, want %q", got, "increment,explode")
	}
}

func TestChannel_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "conveyr_test_total", Help: "test"}))

	c := New(nil, Options{
		Logger:         zerolog.Nop(),
		MetricsPath:    "/metrics",
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	rec := do(t, c.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "conveyr_test_total") {
		t.Error("metrics output missing registered counter")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", service.ErrHandlerTimeout, http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"other", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestChannel_BearerAuth(t *testing.T) {
	rt := newCounterRuntime(t)
	tokens := auth.NewTokenService("test-secret", time.Hour)
	c := New(rt, Options{Logger: zerolog.Nop(), Auth: tokens})

	all, _, err := tokens.GenerateToken("ops", nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	limited, _, err := tokens.GenerateToken("bot", []string{"increment"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	foreign, _, err := auth.NewTokenService("other-secret", time.Hour).GenerateToken("ops", nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		header   string
		wantCode int
	}{
		{"health is open", http.MethodGet, "/health", "", http.StatusOK},
		{"missing token", http.MethodGet, "/actions", "", http.StatusUnauthorized},
		{"not bearer", http.MethodGet, "/stores", "Basic abc", http.StatusUnauthorized},
		{"foreign token", http.MethodGet, "/stores", "Bearer " + foreign, http.StatusUnauthorized},
		{"list actions", http.MethodGet, "/actions", "Bearer " + all, http.StatusOK},
		{"read store", http.MethodGet, "/stores/counts", "Bearer " + limited, http.StatusOK},
		{"allowed action", http.MethodPost, "/actions/increment", "Bearer " + limited, http.StatusOK},
		{"denied action", http.MethodPost, "/actions/explode", "Bearer " + limited, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := ""
			if tt.method == http.MethodPost {
				body = "1"
			}
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestChannel_OpenAPI(t *testing.T) {
	rt := newCounterRuntime(t)

	disabled := New(rt, Options{Logger: zerolog.Nop()})
	if rec := do(t, disabled.Handler(), http.MethodGet, "/.well-known/openapi.json", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status without OpenAPI = %d, want 404", rec.Code)
	}

	c := New(rt, Options{
		Logger:  zerolog.Nop(),
		OpenAPI: true,
		Auth:    auth.NewTokenService("test-secret", time.Hour),
	})

	rec := do(t, c.Handler(), http.MethodGet, "/.well-known/openapi.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var doc openapi.Spec
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc.Paths["/actions/increment"]; !ok {
		t.Error("document missing /actions/increment")
	}
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Error("document missing bearerAuth scheme")
	}

	rec = do(t, c.Handler(), http.MethodGet, "/swagger/index.html", "")
	if rec.Code != http.StatusOK {
		t.Errorf("swagger status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestChannel_UnencodableField(t *testing.T) {
	rt := runtime.New(runtime.Config{Logger: zerolog.Nop()})
	sb, err := rt.CreateStore("hooks")
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if _, err := sb.DefinesField("callback", schema.Primitive{Kind: types.Function}).Build(); err != nil {
		t.Fatalf("Build store: %v", err)
	}
	c := New(rt, Options{Logger: zerolog.Nop()})

	for _, path := range []string{"/stores/hooks", "/stores/hooks/fields/callback"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, c.Handler(), http.MethodGet, path, "")
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			var resp ErrorResponseBody
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Code != "encode_error" {
				t.Errorf("code = %q, want encode_error", resp.Error.Code)
			}
		})
	}
}
