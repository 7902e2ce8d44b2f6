package main

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gobwas/ws"
)

// handleWS is C8's guard plus the C4 entrypoint: resolve the api_key, check
// the Origin against the resolved domain, admission-check via the
// ResourceGuard, then upgrade and spawn the read/write pumps. Grounded on
// ws/internal/single/core/handlers_ws.go's handleWebSocket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.isShuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		apiKey = r.Header.Get("X-App-Key")
	}
	if apiKey == "" {
		http.Error(w, "missing api_key", http.StatusUnauthorized)
		return
	}

	domain, found, err := s.adminStore.LookupAPIKey(r.Context(), apiKey)
	if err != nil {
		s.logger.Error().Err(err).Msg("admin store lookup failed")
		http.Error(w, "admin store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !found || !domain.Active {
		http.Error(w, "unknown or inactive api_key", http.StatusUnauthorized)
		return
	}

	if !s.originAllowed(r, domain) {
		http.Error(w, "origin not allowed for this api_key", http.StatusForbidden)
		return
	}

	if accept, reason := s.resourceGuard.ShouldAcceptConnection(); !accept {
		s.logger.Debug().Str("reason", reason).Msg("connection rejected by resource guard")
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.connSlots <- struct{}{}:
	default:
		metricConnectionsRejected.WithLabelValues("at_max_connections").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.connSlots
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	socketID, err := newSocketID()
	if err != nil {
		<-s.connSlots
		conn.Close()
		s.logger.Error().Err(err).Msg("socket_id generation failed")
		return
	}

	id := atomic.AddInt64(&s.nextConnID, 1)
	limiter := newInboundLimiter(s.config.InboundFramesPerSec, s.config.InboundBurst)
	c := NewConnection(conn, id, socketID, s.config.SendQueueSize, limiter)
	c.DomainID = domain.ID
	c.DomainName = domain.Name
	c.setState(StateEstablished)

	s.connections.Store(socketID, c)
	atomic.AddInt64(&s.currentConns, 1)
	metricConnectionsTotal.Inc()

	s.logger.Info().
		Str("socket_id", socketID).
		Str("domain_id", domain.ID).
		Str("remote", remoteAddr(conn)).
		Msg("connection established")

	established := marshalFrame(EventConnectionEstablished, "", connectionEstablishedData{
		SocketID:        socketID,
		ActivityTimeout: int(s.config.ActivityTimeout.Seconds()),
	})
	c.enqueue(established)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readPump(c)
	}()
}

// originAllowed implements spec.md §4.8: "*" disables the check, a missing
// Origin header is accepted only in dev mode, otherwise the header's host
// (port stripped) must case-insensitively match domain.Name.
func (s *Server) originAllowed(r *http.Request, domain Domain) bool {
	if domain.Name == "*" {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return s.config.DevMode
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return strings.EqualFold(host, domain.Name)
}

func remoteAddr(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
