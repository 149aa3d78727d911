package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"flotilla/pkg/logging"
)

func serveRequest(r *gin.Engine, method, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), method, path, nil)
	if mutate != nil {
		mutate(req)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDMiddlewareAssignsUUID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	var ctxID string
	r.GET("/ping", func(c *gin.Context) {
		ctxID = GetRequestID(c)
		c.String(http.StatusOK, "pong")
	})

	w := serveRequest(r, "GET", "/ping", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	headerID := w.Header().Get("X-Request-ID")
	if _, err := uuid.Parse(headerID); err != nil {
		t.Fatalf("expected UUID request ID, got %q", headerID)
	}
	if ctxID != headerID {
		t.Fatalf("context ID %q does not match header %q", ctxID, headerID)
	}
}

func TestRequestIDMiddlewarePreservesIncomingID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := serveRequest(r, "GET", "/ping", func(req *http.Request) {
		req.Header.Set("X-Request-ID", "req-123")
	})
	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected incoming ID to be preserved, got %q", got)
	}
}

func TestRecoveryMiddlewareReturnsJSON500(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryMiddleware(logging.NewLogger()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serveRequest(r, "GET", "/panic", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Fatalf("expected JSON error body, got %q", w.Body.String())
	}
}

func TestCORSMiddlewareShortCircuitsPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware())
	handlerRan := false
	r.OPTIONS("/anything", func(c *gin.Context) { handlerRan = true })

	w := serveRequest(r, "OPTIONS", "/anything", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if handlerRan {
		t.Fatal("preflight must not reach the handler")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS origin header")
	}
	if w.Header().Get("Access-Control-Expose-Headers") != "X-Request-ID" {
		t.Fatal("expected request ID to be exposed to browsers")
	}
}

func TestLoggingMiddlewarePassesRequestThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(logging.NewLogger()))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	if w := serveRequest(r, "GET", "/", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetContextLoggerCarriesCorrelationFields(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/schedules", func(c *gin.Context) {
		entry := GetContextLogger(c, logging.NewLogger())
		if entry.Data["request_id"] == "" {
			t.Fatal("expected request_id field")
		}
		if entry.Data["path"] != "/schedules" {
			t.Fatalf("expected path field, got %v", entry.Data["path"])
		}
		c.String(http.StatusOK, "ok")
	})

	if w := serveRequest(r, "GET", "/schedules", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
