package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Server owns every long-lived component: the bus, presence store,
// subscription registry, fan-out worker pool, resource guard, and the
// admin store used at upgrade time. Grounded on ws/server.go's Server,
// re-themed from Kafka-consumer-plus-clients-pool to bus-plus-registry.
type Server struct {
	config *Config
	logger zerolog.Logger

	bus           *Bus
	busSub        *nats.Subscription // the dispatcher's wildcard subscription; stopped first on Shutdown
	presence      *PresenceStore
	registry      *SubscriptionRegistry
	workerPool    *WorkerPool
	resourceGuard *ResourceGuard
	adminStore    AdminStore
	metrics       *MetricsCollector

	httpServer *http.Server

	connections  sync.Map // socket_id -> *Connection
	connSlots    chan struct{}
	nextConnID   int64
	currentConns int64

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shuttingDown atomic.Bool
}

func NewServer(cfg *Config, logger zerolog.Logger, adminStore AdminStore) (*Server, error) {
	bus, err := NewBus(BusConfig{
		URL:             cfg.NatsURL,
		MaxReconnects:   -1, // never stop trying
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 100 * time.Millisecond,
		MaxPingsOut:     2,
		PingInterval:    2 * time.Minute,
	}, logger.With().Str("component", "bus").Logger())
	if err != nil {
		return nil, err
	}

	presence, err := NewPresenceStore(cfg.RedisURL, cfg.PresenceTTL, logger.With().Str("component", "presence").Logger())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     cfg,
		logger:     logger,
		bus:        bus,
		presence:   presence,
		registry:   NewSubscriptionRegistry(),
		workerPool: NewWorkerPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize, logger.With().Str("component", "worker_pool").Logger()),
		adminStore: adminStore,
		connSlots:  make(chan struct{}, cfg.MaxConnections),
		startedAt:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.resourceGuard = NewResourceGuard(cfg, logger.With().Str("component", "resource_guard").Logger(), &s.currentConns)
	s.metrics = NewMetricsCollector(s)

	return s, nil
}

func (s *Server) connectionCount() int64 {
	return atomic.LoadInt64(&s.currentConns)
}

func (s *Server) isShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Start wires the HTTP surface, launches the fan-out dispatcher, and begins
// background monitoring. Returns once ListenAndServe exits; the
// http.ErrServerClosed it reports after Shutdown is treated as success and
// Start returns nil.
func (s *Server) Start() error {
	s.workerPool.Start(s.ctx)
	s.resourceGuard.StartMonitoring(s.ctx, s.config.MetricsInterval)
	s.metrics.Start()

	if err := s.startDispatcher(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/broadcast", s.handleBroadcast)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", http.HandlerFunc(handleMetrics))

	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.config.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// disconnectConnection runs the full teardown chain for one connection:
// registry removal (with presence leave + member_removed for every presence
// channel it held), signaling writePump to exit, and releasing its admission
// slot. Safe to call more than once for the same connection;
// sync.Map.LoadAndDelete and Connection.closeOnce make every step idempotent.
func (s *Server) disconnectConnection(c *Connection, reason string) {
	if _, loaded := s.connections.LoadAndDelete(c.SocketID); !loaded {
		return
	}

	c.setState(StateClosing)

	channels := s.registry.RemoveConnection(c)
	metricSubscriptionsActive.Sub(float64(len(channels)))
	for _, channel := range channels {
		if userID, ok := c.forgetPresenceJoin(channel); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			removed, err := s.presence.Leave(ctx, channel, userID)
			cancel()
			if err != nil {
				s.logger.Warn().Err(err).Str("channel", channel).Msg("presence leave on disconnect failed")
				continue
			}
			if removed {
				metricPresenceLeaves.Inc()
				s.publishMemberRemoved(channel, userID)
			}
		}
	}

	select {
	case <-s.connSlots:
	default:
	}

	duration := time.Since(c.connectedAt)
	metricDisconnectsTotal.WithLabelValues(reason).Inc()
	metricConnectionDuration.WithLabelValues(reason).Observe(duration.Seconds())
	atomic.AddInt64(&s.currentConns, -1)

	c.setState(StateClosed)
	// c.send is never closed (see connection.go's markClosed) — a concurrent
	// fan-out enqueue from the dispatcher must never risk a send-on-closed
	// panic. markClosed signals writePump via the separate c.closed channel
	// and closes the socket; it is idempotent with whichever of
	// writePump/disconnectConnection/killSlowConsumer gets here first.
	c.markClosed()

	s.logger.Info().
		Str("socket_id", c.SocketID).
		Str("reason", reason).
		Dur("duration", duration).
		Msg("connection closed")
}

// Shutdown drains connections gracefully: stop accepting new work, give
// existing connections up to grace to finish, then force-close whatever
// remains. Grounded on ws/server.go's Shutdown.
func (s *Server) Shutdown(grace time.Duration) error {
	s.shuttingDown.Store(true)
	s.logger.Info().Msg("shutdown initiated")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}

	// Stop the dispatch source before anything that fan-out delivery
	// depends on: once the wildcard subscription is torn down, no more
	// NATS messages can reach workerPool.Submit, so draining connections
	// and stopping the worker pool below can't race a Submit against a
	// closed taskQueue. Mirrors the teacher's Shutdown stopping its Kafka
	// consumer before any client/worker teardown.
	if s.busSub != nil {
		if err := s.busSub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("bus unsubscribe failed during shutdown")
		}
	}

	deadline := time.Now().Add(grace)
	checkTicker := time.NewTicker(200 * time.Millisecond)
	defer checkTicker.Stop()

	for time.Now().Before(deadline) {
		if s.connectionCount() == 0 {
			break
		}
		<-checkTicker.C
	}

	s.connections.Range(func(_, value any) bool {
		c := value.(*Connection)
		s.disconnectConnection(c, "server_shutdown")
		return true
	})

	s.cancel()
	s.workerPool.Stop()
	s.metrics.Stop()
	s.bus.Close()
	s.presence.Close()
	s.wg.Wait()

	s.logger.Info().Msg("shutdown complete")
	return nil
}
