package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mquery/internal/platform/logger"
	kit "mquery/internal/platform/testkit"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestRecoverJSON_WritesEnvelope(t *testing.T) {
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		RequestID(), RecoverJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Kind != "panic" || body.RequestID == "" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestAccessLog_LogsAndSkips(t *testing.T) {
	kit.Serial(t)
	var buf bytes.Buffer
	logger.Init(logger.Options{Level: "debug", Format: "json", Writer: &buf})
	t.Cleanup(func() { logger.Init(logger.Options{Level: "error", Writer: &bytes.Buffer{}}) })

	h := chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}), RequestID(), AccessLog(AccessLogOptions{Slow: time.Millisecond, Skip: []string{"/metrics"}}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/backend", nil))
	out := buf.String()
	kit.MustContain(t, out, `"path":"/api/backend"`)
	kit.MustContain(t, out, `"level":"warn"`)
	kit.MustContain(t, out, `"request_id"`)

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(buf.String(), "request done") {
		t.Fatalf("skipped path was logged: %s", buf.String())
	}
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/matches/{hash}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("/api/matches/{hash}", "GET", "418"))
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/matches/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("/api/matches/{hash}", "GET", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 samples on one series, got %v", after-before)
	}
}

func TestCORS_Preflight(t *testing.T) {
	h := CORS(CORSOptions{AllowedOrigins: []string{"http://ui.local"}})(http.NotFoundHandler())
	req := httptest.NewRequest("OPTIONS", "/api/query/low", nil)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://ui.local" {
		t.Fatalf("missing allow origin: %v", rec.Header())
	}
}
