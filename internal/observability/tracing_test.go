package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/designer/internal/config"
)

// recordSpans installs an always-sampling provider that records ended spans.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr string
	}{
		{name: "disabled", cfg: config.TracingConfig{Exporter: "jaeger"}},
		{name: "stdout", cfg: config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}},
		{name: "unknown exporter", cfg: config.TracingConfig{Enabled: true, Exporter: "jaeger"}, wantErr: "unsupported exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracing(context.Background(), tt.cfg, "designer", "test")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		root string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{-2, "TraceIDRatioBased{0.1}"},
		{0.25, "TraceIDRatioBased{0.25}"},
		{1, "AlwaysOnSampler"},
		{7, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.HasPrefix(desc, "ParentBased{root:"+tt.root) {
			t.Errorf("rate %v: sampler = %s, want root %s", tt.rate, desc, tt.root)
		}
	}
}

func TestTracingMiddleware_namesSpanAfterRoute(t *testing.T) {
	exporter := recordSpans(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Post("/designer/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/designer/sessions/{sessionId}/submit", func(w http.ResponseWriter, r *http.Request) {
		if TraceIDFromContext(r.Context()) == "" {
			t.Error("handler context carries no trace")
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	tests := []struct {
		path       string
		wantName   string
		wantRoute  string
		wantStatus string
		wantError  bool
	}{
		{"/designer/sessions", "POST /designer/sessions", "/designer/sessions", "201", false},
		{"/designer/sessions/s-42/submit", "POST /designer/sessions/{sessionId}/submit", "/designer/sessions/{sessionId}/submit", "503", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			exporter.Reset()
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("POST", tt.path, nil))

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantName {
				t.Errorf("name = %q, want %q", s.Name, tt.wantName)
			}
			attrs := spanAttrMap(s)
			if attrs["http.route"] != tt.wantRoute {
				t.Errorf("http.route = %q, want %q", attrs["http.route"], tt.wantRoute)
			}
			if attrs["url.path"] != tt.path {
				t.Errorf("url.path = %q", attrs["url.path"])
			}
			if attrs["http.response.status_code"] != tt.wantStatus {
				t.Errorf("status attribute = %q, want %s", attrs["http.response.status_code"], tt.wantStatus)
			}
			if (s.Status.Code == codes.Error) != tt.wantError {
				t.Errorf("span status = %v", s.Status.Code)
			}
			if w.Header().Get("traceparent") == "" {
				t.Error("response has no traceparent")
			}
		})
	}
}

func TestTracingMiddleware_continuesCallerTrace(t *testing.T) {
	exporter := recordSpans(t)
	const (
		callerTrace = "4bf92f3577b34da6a3ce929d0e0e4736"
		callerSpan  = "00f067aa0ba902b7"
	)

	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest("GET", "/designer/kinds", nil)
	req.Header.Set("traceparent", "00-"+callerTrace+"-"+callerSpan+"-01")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != callerTrace {
		t.Errorf("trace id = %s, want the caller's", got)
	}
	if got := spans[0].Parent.SpanID().String(); got != callerSpan {
		t.Errorf("parent span = %s, want the caller's", got)
	}
	if spans[0].Name != "GET /designer/kinds" {
		t.Errorf("unrouted span name = %q", spans[0].Name)
	}
	if !strings.Contains(w.Header().Get("traceparent"), callerTrace) {
		t.Errorf("response traceparent = %q", w.Header().Get("traceparent"))
	}
}

func TestSubmitSpans(t *testing.T) {
	exporter := recordSpans(t)

	if TraceIDFromContext(context.Background()) != "" {
		t.Error("trace id without a span")
	}

	ctx, submit := StartSpan(context.Background(), "designer.submit",
		AttrSessionID.String("s-1"),
		AttrDesignerKind.String("list"),
	)
	traceID := TraceIDFromContext(ctx)

	_, check := StartSpan(ctx, "idempotency.check", AttrReplayed.Bool(false))
	EndSpanWithError(check, nil)
	_, save := StartSpan(ctx, "domainstore.save", AttrDomainID.String("d-1"))
	EndSpanWithError(save, errors.New("store unavailable"))
	EndSpanWithError(submit, nil)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range exporter.GetSpans() {
		byName[s.Name] = s
		if s.SpanContext.TraceID().String() != traceID {
			t.Errorf("%s is on another trace", s.Name)
		}
	}
	if len(byName) != 3 {
		t.Fatalf("got spans %v, want 3", byName)
	}

	root := byName["designer.submit"]
	if attrs := spanAttrMap(root); attrs["designer.session_id"] != "s-1" || attrs["designer.kind"] != "list" {
		t.Errorf("submit attributes = %v", attrs)
	}
	if root.Status.Code == codes.Error {
		t.Error("submit should not be marked failed")
	}
	for _, child := range []string{"idempotency.check", "domainstore.save"} {
		if byName[child].Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("%s is not a child of designer.submit", child)
		}
	}

	failed := byName["domainstore.save"]
	if failed.Status.Code != codes.Error || failed.Status.Description != "store unavailable" {
		t.Errorf("save status = %+v", failed.Status)
	}
	if len(failed.Events) != 1 || failed.Events[0].Name != "exception" {
		t.Errorf("save events = %v, want one recorded exception", failed.Events)
	}
	if byName["idempotency.check"].Status.Code != codes.Unset {
		t.Error("successful check should leave the status unset")
	}
}
