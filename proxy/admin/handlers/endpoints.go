package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/proxy/relay"
)

// StatusProvider reports the relay's endpoints
type StatusProvider interface {
	RunID() string
	Status() []relay.EndpointStatus
}

// EndpointsResponse is the body of GET /endpoints
type EndpointsResponse struct {
	RunID     string                 `json:"run_id"`
	Receiving int                    `json:"receiving"`
	Endpoints []relay.EndpointStatus `json:"endpoints"`
}

// NewEndpointsHandler lists every endpoint with its receive state and counters
func NewEndpointsHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if provider == nil {
			http.Error(w, "relay not running", http.StatusServiceUnavailable)
			return
		}

		resp := EndpointsResponse{
			RunID:     provider.RunID(),
			Endpoints: provider.Status(),
		}
		for _, ep := range resp.Endpoints {
			if ep.Receiving {
				resp.Receiving++
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("Failed to encode endpoints response", logging.Error(err))
		}
	}
}
