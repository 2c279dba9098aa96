package bus

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpadapter/internal/common/logger"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus is closed")

const subscriptionBuffer = 256

// MemoryEventBus delivers events in-process. Each subscription has its own
// goroutine and queue, so a subscriber sees events in publish order and a
// slow subscriber never blocks the publisher until its queue fills.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
	logger *logger.Logger
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp
	handler EventHandler

	queue    chan delivery
	stopOnce sync.Once
	stopped  chan struct{}
}

type delivery struct {
	ctx     context.Context
	subject string
	event   *Event
}

// NewMemoryEventBus creates an in-memory bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subs:   make(map[*memorySubscription]struct{}),
		logger: log.WithFields(zap.String("component", "event-bus")),
	}
}

// Publish queues event for every subscription whose pattern matches subject.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var targets []*memorySubscription
	for sub := range b.subs {
		if matches(subject, sub.subject, sub.pattern) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	d := delivery{ctx: context.WithoutCancel(ctx), subject: subject, event: event}
	for _, sub := range targets {
		select {
		case sub.queue <- d:
		case <-sub.stopped:
		}
	}

	b.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

// Subscribe registers handler for subject, which may contain wildcards.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		handler: handler,
		queue:   make(chan delivery, subscriptionBuffer),
		stopped: make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	go sub.run()

	b.logger.Debug("subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Close stops every subscription. Events already queued are dropped.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*memorySubscription]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
	b.logger.Debug("memory event bus closed")
}

// IsConnected reports whether the bus is open.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (s *memorySubscription) run() {
	for {
		select {
		case <-s.stopped:
			return
		case d := <-s.queue:
			if err := s.handler(d.ctx, d.event); err != nil {
				s.bus.logger.Error("event handler error",
					zap.String("subject", d.subject),
					zap.String("event_type", d.event.Type),
					zap.Error(err))
			}
		}
	}
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Unsubscribe removes the subscription.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

// IsValid reports whether the subscription still receives events.
func (s *memorySubscription) IsValid() bool {
	select {
	case <-s.stopped:
		return false
	default:
		return true
	}
}

func matches(subject, pattern string, regex *regexp.Regexp) bool {
	if regex == nil {
		return subject == pattern
	}
	return regex.MatchString(subject)
}

// compilePattern turns a NATS-style wildcard subject into a regexp. Subjects
// without wildcards return nil and are matched exactly.
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}
