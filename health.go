package main

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

type healthResponse struct {
	OK             bool           `json:"ok"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	Connections    int64          `json:"connections"`
	MaxConnections int            `json:"max_connections"`
	BusConnected   bool           `json:"bus_connected"`
	ResourceStats  map[string]any `json:"resources"`
}

// handleHealth answers GET /health. The core contract per spec.md §6 is
// simply {"ok": true}; the fields beyond that are ambient diagnostics, not
// conditions for the 200 — a healthy process reports ok:true even with the
// bus momentarily disconnected, since NATS auto-reconnects and queued
// publishes resume on their own.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		OK:             true,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		Connections:    atomic.LoadInt64(&s.currentConns),
		MaxConnections: s.config.MaxConnections,
		BusConnected:   s.bus.IsConnected(),
		ResourceStats:  s.resourceGuard.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
