package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	applogger "QuoteFlow/pkg/logger"
)

func TestCORSPreflight(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{
		AllowOrigins: []string{"https://desk.example"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		MaxAge:       60,
	}))
	called := false
	e.POST("/api/fills", func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/fills", nil)
	req.Header.Set(echo.HeaderOrigin, "https://desk.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if called {
		t.Fatalf("preflight reached the handler")
	}
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "https://desk.example" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := rec.Header().Get(echo.HeaderAccessControlMaxAge); got != "60" {
		t.Fatalf("unexpected max-age %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/fills", nil)
	req.Header.Set(echo.HeaderOrigin, "https://other.example")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Fatalf("foreign origin was allowed: %q", got)
	}
	if !called {
		t.Fatalf("simple request did not reach the handler")
	}
}

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware(applogger.Nop(), time.Second))
	e.Use(Recover(applogger.Nop()))
	e.GET("/api/snapshot", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/boom", func(echo.Context) error { panic("boom") })

	for _, path := range []string{"/api/snapshot", "/api/snapshot", "/nope", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/snapshot", http.MethodGet, "200")); got != 2 {
		t.Fatalf("expected 2 snapshot requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("/boom", http.MethodGet, "500")); got != 1 {
		t.Fatalf("expected the panic to count as 500, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight.WithLabelValues("/api/snapshot", http.MethodGet)); got != 0 {
		t.Fatalf("in-flight gauge not released: %v", got)
	}
}
