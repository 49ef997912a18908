package server

import (
	"encoding/json"
	"net/http"

	"github.com/zeusync/repgraph/internal/core/replication/graph"
)

// ServeHTTP routes the websocket endpoint and the stats endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ws":
		s.handleWebSocket(w, r)
	case "/stats":
		s.handleStats(w, r)
	default:
		http.NotFound(w, r)
	}
}

type statsResponse struct {
	Running  bool             `json:"running"`
	Clients  int64            `json:"clients"`
	LastTick *graph.TickStats `json:"last_tick,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statsResponse{
		Running: s.running.Load(),
		Clients: s.clientCount.Load(),
	}
	if stats, ok := s.LastTickStats(); ok {
		resp.LastTick = &stats
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
