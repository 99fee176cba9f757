package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/go-redis/redis/v8"

	"vpc-gateway/internal/common/logging"
	"vpc-gateway/internal/redis"
	"vpc-gateway/internal/registry"
)

const (
	endpointKeyPrefix = "gateway:endpoints:"
	eventsChannel     = "gateway:events"
)

// Event types carried on the events channel.
const (
	EventEndpointAdded   = "endpoint_added"
	EventEndpointRemoved = "endpoint_removed"
	EventServiceRemoved  = "service_removed"
	EventRouteReload     = "route_reload"
)

// Event is the wire form of a coordination message. Origin carries the
// publishing instance's id so publishers can ignore their own events.
type Event struct {
	Type    string `json:"type"`
	Service string `json:"service,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// ProviderConfig configures the Redis discovery provider.
type ProviderConfig struct {
	// Instance identifies this gateway process in published events.
	Instance string
	// OnReload runs when a route_reload event arrives from another
	// instance.
	OnReload func()
}

// Provider keeps the local registry synchronized through Redis: Resync
// pulls full endpoint sets, Start watches for incremental events, and the
// Publish methods broadcast local changes to the other instances.
type Provider struct {
	client   *redis.Client
	registry *registry.Registry
	logger   logging.Logger
	instance string
	onReload func()

	mu      sync.Mutex
	started bool
	pubsub  *goredis.PubSub
	wg      sync.WaitGroup
}

// NewProvider creates a provider over an established Redis client.
func NewProvider(client *redis.Client, reg *registry.Registry, cfg ProviderConfig, logger logging.Logger) *Provider {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Provider{
		client:   client,
		registry: reg,
		logger:   logger.WithFields(logging.String("component", "discovery")),
		instance: cfg.Instance,
		onReload: cfg.OnReload,
	}
}

// Resync replaces every service's endpoint set from the stored sets in
// Redis. Unreadable sets are skipped so one bad key cannot wedge the rest.
func (p *Provider) Resync(ctx context.Context) error {
	keys, err := p.client.ScanKeys(ctx, endpointKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to scan endpoint keys: %w", err)
	}

	synced := 0
	for _, key := range keys {
		service := strings.TrimPrefix(key, endpointKeyPrefix)
		if service == "" {
			continue
		}
		var addrs []registry.Address
		if err := p.client.GetJSON(ctx, key, &addrs); err != nil {
			p.logger.Warn("Skipping unreadable endpoint set",
				logging.String("service", service),
				logging.Err(err),
			)
			continue
		}
		p.registry.SetEndpoints(service, addrs)
		synced++
	}

	p.logger.Info("Discovery resync complete", logging.Int("services", synced))
	return nil
}

// Start subscribes to the events channel and applies incoming events until
// Stop is called.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	pubsub := p.client.Subscribe(ctx, eventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", eventsChannel, err)
	}

	p.pubsub = pubsub
	p.started = true
	p.wg.Add(1)
	go p.run()

	p.logger.Info("Discovery watch started", logging.String("channel", eventsChannel))
	return nil
}

// Stop unsubscribes and waits for the watch goroutine to exit.
func (p *Provider) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	pubsub := p.pubsub
	p.pubsub = nil
	p.mu.Unlock()

	pubsub.Close()
	p.wg.Wait()
	p.logger.Info("Discovery watch stopped")
}

func (p *Provider) run() {
	defer p.wg.Done()
	for msg := range p.pubsub.Channel() {
		p.handleEvent([]byte(msg.Payload))
	}
}

func (p *Provider) handleEvent(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		p.logger.Warn("Discarding malformed discovery event", logging.Err(err))
		return
	}
	if ev.Origin != "" && ev.Origin == p.instance {
		return
	}

	switch ev.Type {
	case EventEndpointAdded:
		if !validEndpointEvent(ev) {
			p.logger.Warn("Discarding incomplete endpoint event", logging.String("type", ev.Type))
			return
		}
		p.registry.UpsertEndpoint(ev.Service, ev.Host, ev.Port)
	case EventEndpointRemoved:
		if !validEndpointEvent(ev) {
			p.logger.Warn("Discarding incomplete endpoint event", logging.String("type", ev.Type))
			return
		}
		p.registry.RemoveEndpoint(ev.Service, ev.Host, ev.Port)
	case EventServiceRemoved:
		if ev.Service == "" {
			p.logger.Warn("Discarding incomplete service event", logging.String("type", ev.Type))
			return
		}
		p.registry.RemoveService(ev.Service)
	case EventRouteReload:
		if p.onReload != nil {
			p.onReload()
		}
	default:
		p.logger.Debug("Ignoring unknown discovery event", logging.String("type", ev.Type))
	}
}

func validEndpointEvent(ev Event) bool {
	return ev.Service != "" && ev.Host != "" && ev.Port > 0
}

// StoreEndpoints writes a service's endpoint set so later resyncs on any
// instance converge to it.
func (p *Provider) StoreEndpoints(ctx context.Context, service string, addrs []registry.Address) error {
	if addrs == nil {
		addrs = []registry.Address{}
	}
	if err := p.client.Set(ctx, endpointKeyPrefix+service, addrs, 0); err != nil {
		return fmt.Errorf("failed to store endpoint set: %w", err)
	}
	return nil
}

// RemoveEndpoints deletes a service's stored endpoint set.
func (p *Provider) RemoveEndpoints(ctx context.Context, service string) error {
	if err := p.client.Delete(ctx, endpointKeyPrefix+service); err != nil {
		return fmt.Errorf("failed to remove endpoint set: %w", err)
	}
	return nil
}

// PublishEndpointAdded broadcasts an endpoint addition to the other
// instances.
func (p *Provider) PublishEndpointAdded(ctx context.Context, service, host string, port int) error {
	return p.publish(ctx, Event{Type: EventEndpointAdded, Service: service, Host: host, Port: port})
}

// PublishEndpointRemoved broadcasts an endpoint removal.
func (p *Provider) PublishEndpointRemoved(ctx context.Context, service, host string, port int) error {
	return p.publish(ctx, Event{Type: EventEndpointRemoved, Service: service, Host: host, Port: port})
}

// PublishServiceRemoved broadcasts the removal of a whole service, as the
// admin API does when a service is deleted.
func (p *Provider) PublishServiceRemoved(ctx context.Context, service string) error {
	return p.publish(ctx, Event{Type: EventServiceRemoved, Service: service})
}

// PublishRouteReload tells the other instances to reload routes from the
// store.
func (p *Provider) PublishRouteReload(ctx context.Context) error {
	return p.publish(ctx, Event{Type: EventRouteReload})
}

func (p *Provider) publish(ctx context.Context, ev Event) error {
	ev.Origin = p.instance
	if err := p.client.Publish(ctx, eventsChannel, ev); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	return nil
}
