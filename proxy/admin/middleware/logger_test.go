package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/julienstroheker/mavrelay/internal/logging"
)

func TestLogger_LogsRequestAndResponse(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := logging.FromZap(zap.New(core))

	var ctxLogger *logging.Logger
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger = logging.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/endpoints", nil)
	w := httptest.NewRecorder()
	Telemetry(Logger(logger)(handler)).ServeHTTP(w, req)

	if ctxLogger == nil {
		t.Fatal("Expected logger in request context")
	}
	if logs.FilterMessage("Request received").Len() != 1 {
		t.Error("Expected one request log")
	}

	sent := logs.FilterMessage("Response sent").All()
	if len(sent) != 1 {
		t.Fatalf("Expected one response log, got %d", len(sent))
	}
	fields := sent[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("Expected status 418, got %v", fields["status"])
	}
	if fields["path"] != "/endpoints" {
		t.Errorf("Expected path /endpoints, got %v", fields["path"])
	}
	if fields["request_id"] != w.Result().Header.Get(HeaderRequestID) {
		t.Errorf("Expected request id to match header, got %v", fields["request_id"])
	}
}

func TestLogger_DefaultStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	w := httptest.NewRecorder()
	Logger(logging.FromZap(zap.New(core)))(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	sent := logs.FilterMessage("Response sent").All()
	if len(sent) != 1 || sent[0].ContextMap()["status"] != int64(http.StatusOK) {
		t.Errorf("Expected a 200 response log, got %+v", sent)
	}
}

func TestLogger_NilLogger(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	Logger(nil)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
}
