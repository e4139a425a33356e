// Package event provides an in-process event bus. Handlers are registered on
// an injected bus instance at startup; there is no package-level registry, so
// the bus lifecycle follows the application's.
package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Handler func(ctx context.Context, payload any)

type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish dispatches payload to every handler subscribed to name,
// synchronously, in registration order. A panicking handler is recovered and
// logged; it does not abort the publishing operation.
func (b *Bus) Publish(ctx context.Context, name string, payload any) {
	b.mu.RLock()
	handlers := b.handlers[name]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event", name),
						zap.Any("panic", r))
				}
			}()
			h(ctx, payload)
		}()
	}
}
