package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petpixie/pixie/pkg/logging"
)

func TestDisabledProviderIsUsable(t *testing.T) {
	p, err := InitTracer(Config{ServiceName: "pixie-test"}, logging.Nop())
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "work")
	AddEvent(ctx, "tick")
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestHTTPMiddlewareNamesSpanByRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	p := &Provider{tp: tp, tracer: tp.Tracer("test")}

	r := mux.NewRouter()
	r.Use(HTTPMiddleware(p))
	r.HandleFunc("/api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, flushable := w.(http.Flusher)
		assert.True(t, flushable)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/abc", nil))

	require.Len(t, recorder.Ended(), 1)
	span := recorder.Ended()[0]
	assert.Equal(t, "GET /api/jobs/{id}", span.Name())

	var status int64
	for _, kv := range span.Attributes() {
		if kv.Key == "http.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	assert.EqualValues(t, http.StatusTeapot, status)
}
