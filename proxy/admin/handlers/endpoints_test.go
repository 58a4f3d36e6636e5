package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/proxy/relay"
)

type staticStatus struct {
	runID    string
	statuses []relay.EndpointStatus
}

func (s staticStatus) RunID() string                  { return s.runID }
func (s staticStatus) Status() []relay.EndpointStatus { return s.statuses }

func TestEndpointsHandler(t *testing.T) {
	provider := staticStatus{
		runID: "run-1",
		statuses: []relay.EndpointStatus{
			{ID: 0, Address: "udpin:0.0.0.0:14550", Receiving: true, Stats: &endpoint.StatsSnapshot{ReceivedFrames: 12}},
			{ID: 1, Address: "tcpout:10.0.0.5:5760", Receiving: false},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/endpoints", nil)
	w := httptest.NewRecorder()
	NewEndpointsHandler(provider)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var resp EndpointsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.RunID != "run-1" {
		t.Errorf("Expected run id run-1, got %q", resp.RunID)
	}
	if resp.Receiving != 1 {
		t.Errorf("Expected 1 receiving endpoint, got %d", resp.Receiving)
	}
	if len(resp.Endpoints) != 2 {
		t.Fatalf("Expected 2 endpoints, got %d", len(resp.Endpoints))
	}
	if resp.Endpoints[0].Stats == nil || resp.Endpoints[0].Stats.ReceivedFrames != 12 {
		t.Errorf("Expected stats for endpoint 0, got %+v", resp.Endpoints[0].Stats)
	}
	if resp.Endpoints[1].Stats != nil {
		t.Errorf("Expected no stats for endpoint 1, got %+v", resp.Endpoints[1].Stats)
	}
}

func TestEndpointsHandler_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/endpoints", nil)
	w := httptest.NewRecorder()
	NewEndpointsHandler(staticStatus{})(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestEndpointsHandler_NoRelay(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/endpoints", nil)
	w := httptest.NewRecorder()
	NewEndpointsHandler(nil)(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status code %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}
