// Package events publishes operational notifications to an AMQP topic
// exchange: endpoint health flips, circuit breaker transitions, and config
// applies. Publishing is best-effort; when the broker is unreachable the
// event is logged and dropped so the request path never blocks on it.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"vpc-gateway/internal/common/logging"
)

// Routing keys on the topic exchange.
const (
	keyHealthChanged  = "gateway.health.changed"
	keyBreakerChanged = "gateway.breaker.changed"
	keyConfigApplied  = "gateway.config.applied"
)

// Publisher emits operational events. Implementations never return errors
// from the event methods; delivery problems are handled internally.
type Publisher interface {
	EndpointHealthChanged(service, endpoint string, healthy bool)
	BreakerStateChanged(endpoint, from, to string)
	ConfigApplied(routes, services int)
	Close() error
}

// HealthChangedEvent is the body published when an endpoint's health flips.
type HealthChangedEvent struct {
	Event    string    `json:"event"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
	Service  string    `json:"service"`
	Endpoint string    `json:"endpoint"`
	Healthy  bool      `json:"healthy"`
}

// BreakerChangedEvent is the body published on a breaker state transition.
type BreakerChangedEvent struct {
	Event    string    `json:"event"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
	Endpoint string    `json:"endpoint"`
	From     string    `json:"from"`
	To       string    `json:"to"`
}

// ConfigAppliedEvent is the body published after a route-table rebuild.
type ConfigAppliedEvent struct {
	Event    string    `json:"event"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
	Routes   int       `json:"routes"`
	Services int       `json:"services"`
}

// Config configures the AMQP publisher.
type Config struct {
	// URL is the broker connection string. Empty disables publishing.
	URL string
	// Exchange is the topic exchange events are published to.
	Exchange string
	// Origin identifies this gateway instance in event bodies.
	Origin string
}

// NewPublisher returns an AMQP-backed publisher, or a NopPublisher when no
// broker URL is configured. The initial connection failure is logged, not
// returned; publishing reconnects on demand.
func NewPublisher(cfg Config, logger logging.Logger) Publisher {
	if cfg.URL == "" {
		return NopPublisher{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	p := &AMQPPublisher{
		url:      cfg.URL,
		exchange: cfg.Exchange,
		origin:   cfg.Origin,
		logger:   logger.WithFields(logging.String("component", "events")),
	}
	if p.exchange == "" {
		p.exchange = "gateway.events"
	}

	// Connect eagerly so operators see connectivity problems at boot.
	p.mu.Lock()
	if err := p.ensureChannelLocked(); err != nil {
		p.logger.Warn("RabbitMQ unavailable, events degrade to logs", logging.Err(err))
	}
	p.mu.Unlock()

	return p
}

// AMQPPublisher publishes events over a single lazily maintained channel.
type AMQPPublisher struct {
	url      string
	exchange string
	origin   string
	logger   logging.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// EndpointHealthChanged publishes an endpoint health transition.
func (p *AMQPPublisher) EndpointHealthChanged(service, endpoint string, healthy bool) {
	p.publish(keyHealthChanged, HealthChangedEvent{
		Event:    "endpoint_health_changed",
		Origin:   p.origin,
		At:       time.Now().UTC(),
		Service:  service,
		Endpoint: endpoint,
		Healthy:  healthy,
	})
}

// BreakerStateChanged publishes a circuit breaker transition.
func (p *AMQPPublisher) BreakerStateChanged(endpoint, from, to string) {
	p.publish(keyBreakerChanged, BreakerChangedEvent{
		Event:    "breaker_state_changed",
		Origin:   p.origin,
		At:       time.Now().UTC(),
		Endpoint: endpoint,
		From:     from,
		To:       to,
	})
}

// ConfigApplied publishes the result of a route-table rebuild.
func (p *AMQPPublisher) ConfigApplied(routes, services int) {
	p.publish(keyConfigApplied, ConfigAppliedEvent{
		Event:    "config_applied",
		Origin:   p.origin,
		At:       time.Now().UTC(),
		Routes:   routes,
		Services: services,
	})
}

// Close tears down the connection. Safe to call more than once.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	return nil
}

func (p *AMQPPublisher) publish(key string, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		p.logger.Warn("Failed to marshal event",
			logging.String("routing_key", key),
			logging.Err(err),
		)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannelLocked(); err != nil {
		p.logger.Warn("Event dropped, broker unavailable",
			logging.String("routing_key", key),
			logging.String("event", string(data)),
			logging.Err(err),
		)
		return
	}

	err = p.ch.Publish(p.exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         data,
		Timestamp:    time.Now(),
	})
	if err != nil {
		// Drop the channel so the next publish redials.
		p.teardownLocked()
		p.logger.Warn("Failed to publish event",
			logging.String("routing_key", key),
			logging.String("event", string(data)),
			logging.Err(err),
		)
	}
}

func (p *AMQPPublisher) ensureChannelLocked() error {
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.teardownLocked()

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	p.conn = conn
	p.ch = ch
	p.logger.Info("Connected to RabbitMQ", logging.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) teardownLocked() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// NopPublisher discards every event. It stands in when no broker is
// configured so call sites never need a nil check.
type NopPublisher struct{}

func (NopPublisher) EndpointHealthChanged(string, string, bool) {}

func (NopPublisher) BreakerStateChanged(string, string, string) {}

func (NopPublisher) ConfigApplied(int, int) {}

func (NopPublisher) Close() error { return nil }
