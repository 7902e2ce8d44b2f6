package main

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus is C3: publish event envelopes to a named topic, and subscribe to a
// wildcard topic to surface a stream of envelopes. Backed by NATS.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

type BusConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

func NewBus(cfg BusConfig, logger zerolog.Logger) (*Bus, error) {
	b := &Bus{logger: logger.With().Str("component", "bus").Logger()}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(b.onConnect),
		nats.DisconnectErrHandler(b.onDisconnect),
		nats.ReconnectHandler(b.onReconnect),
		nats.ErrorHandler(b.onError),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *Bus) onConnect(c *nats.Conn) {
	b.logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to bus")
}

func (b *Bus) onDisconnect(c *nats.Conn, err error) {
	if err != nil {
		b.logger.Warn().Err(err).Msg("disconnected from bus")
	} else {
		b.logger.Info().Msg("disconnected from bus")
	}
}

func (b *Bus) onReconnect(c *nats.Conn) {
	b.logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to bus")
	metricBusReconnects.Inc()
}

func (b *Bus) onError(c *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	b.logger.Error().Err(err).Str("subject", subject).Msg("bus error")
}

// Publish is fire-and-forget: it returns once the NATS client has accepted
// the message into its outbound buffer, not once a peer has it.
func (b *Bus) Publish(channel string, envelope []byte) error {
	if err := b.conn.Publish(busSubject(channel), envelope); err != nil {
		return fmt.Errorf("bus publish: %w", err)
	}
	return nil
}

// Subscribe registers handler against busWildcard ("channel.>"), one
// persistent subscription per process. On internal reconnect the NATS client
// resumes delivery automatically; no replay of missed messages is attempted.
func (b *Bus) Subscribe(handler func(subject string, data []byte)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(busWildcard, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bus subscribe: %w", err)
	}
	return sub, nil
}

func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
