package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Handler receives a published payload.
type Handler func(ctx context.Context, routingKey string, payload []byte) error

// InProcessBus delivers events synchronously to local handlers. Used when no
// broker is configured.
type InProcessBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewInProcessBus creates an empty bus.
func NewInProcessBus(logger *slog.Logger) *InProcessBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessBus{handlers: make(map[string][]Handler), logger: logger}
}

// Subscribe registers h for a routing key. A trailing ".#" matches any
// key with that prefix; "#" alone matches everything.
func (b *InProcessBus) Subscribe(pattern string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = append(b.handlers[pattern], h)
}

// Publish dispatches to every matching handler. Handler errors are logged,
// never returned: a local listener must not fail the publishing operation.
func (b *InProcessBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	b.mu.RLock()
	var matched []Handler
	for pattern, hs := range b.handlers {
		if matches(pattern, routingKey) {
			matched = append(matched, hs...)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		if err := h(ctx, routingKey, payload); err != nil {
			b.logger.Error("event handler failed",
				"routing_key", routingKey,
				"error", err,
			)
		}
	}
	return nil
}

// Close is a no-op.
func (b *InProcessBus) Close() error {
	return nil
}

func matches(pattern, routingKey string) bool {
	switch {
	case pattern == "#":
		return true
	case strings.HasSuffix(pattern, ".#"):
		return strings.HasPrefix(routingKey, strings.TrimSuffix(pattern, "#"))
	default:
		return pattern == routingKey
	}
}
