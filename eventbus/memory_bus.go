package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.pilab.hu/linksync/internal/metrics"
	"go.pilab.hu/linksync/log"
)

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

// InProcessBus is the single-instance Bus implementation.
type InProcessBus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscriber
	nextID      uint64
	logger      log.Logger
	now         func() time.Time
}

// NewInProcessBus creates an empty bus.
func NewInProcessBus(logger log.Logger) *InProcessBus {
	if logger == nil {
		logger = log.Nop()
	}
	return &InProcessBus{
		subscribers: make(map[Topic][]subscriber),
		logger:      logger.With(map[string]interface{}{"component": "eventbus"}),
		now:         time.Now,
	}
}

type subscription struct {
	bus   *InProcessBus
	topic Topic
	id    uint64
	once  sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		subs := s.bus.subscribers[s.topic]
		for i, sub := range subs {
			if sub.id == s.id {
				s.bus.subscribers[s.topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	})
}

// Subscribe registers h for topic. name identifies the handler in logs and metrics.
func (b *InProcessBus) Subscribe(topic Topic, name string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{id: b.nextID, name: name, handler: h})
	return &subscription{bus: b, topic: topic, id: b.nextID}
}

func (b *InProcessBus) snapshot(topic Topic) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]subscriber(nil), b.subscribers[topic]...)
}

func (b *InProcessBus) wrap(ctx context.Context, topic Topic, payload any, source, correlationID string) (context.Context, EmittedEvent) {
	if correlationID == "" {
		correlationID = log.CorrelationID(ctx)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ev := EmittedEvent{
		Timestamp:     b.now().UTC(),
		Source:        source,
		Type:          topic,
		Payload:       payload,
		CorrelationID: correlationID,
	}
	return log.WithCorrelationID(ctx, correlationID), ev
}

// Emit implements Bus.
func (b *InProcessBus) Emit(ctx context.Context, topic Topic, payload any, source string, correlationID string) bool {
	ctx, ev := b.wrap(ctx, topic, payload, source, correlationID)
	subs := b.snapshot(topic)
	b.logEmission(ctx, ev, "sync", len(subs))

	for _, sub := range subs {
		if err := invoke(ctx, sub, ev); err != nil {
			metrics.HandlerFailuresTotal.WithLabelValues(string(topic), sub.name).Inc()
			b.logger.Error(ctx, "Event handler failed", err, map[string]interface{}{
				"topic":   string(topic),
				"handler": sub.name,
			})
		}
	}
	return len(subs) > 0
}

// EmitAsync implements Bus.
func (b *InProcessBus) EmitAsync(ctx context.Context, topic Topic, payload any, source string, correlationID string) error {
	ctx, ev := b.wrap(ctx, topic, payload, source, correlationID)
	subs := b.snapshot(topic)
	b.logEmission(ctx, ev, "async", len(subs))

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub subscriber) {
			defer wg.Done()
			if err := invoke(ctx, sub, ev); err != nil {
				errs[i] = fmt.Errorf("handler %s: %w", sub.name, err)
			}
		}(i, sub)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		metrics.HandlerFailuresTotal.WithLabelValues(string(topic), subs[i].name).Inc()
		b.logger.Error(ctx, "Event handler failed", err, map[string]interface{}{
			"topic":   string(topic),
			"handler": subs[i].name,
		})
	}
	return errors.Join(errs...)
}

func (b *InProcessBus) logEmission(ctx context.Context, ev EmittedEvent, mode string, subscribers int) {
	metrics.EventsEmittedTotal.WithLabelValues(string(ev.Type), mode).Inc()
	b.logger.Info(ctx, "Event emitted", map[string]interface{}{
		"topic":       string(ev.Type),
		"source":      ev.Source,
		"mode":        mode,
		"subscribers": subscribers,
	})
}

// invoke runs a handler, turning a panic into an error.
func invoke(ctx context.Context, sub subscriber, ev EmittedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler %s: %v", sub.name, r)
		}
	}()
	return sub.handler(ctx, ev)
}

var _ Bus = (*InProcessBus)(nil)
