// Package websocket relays events received from the message bus into the
// local WebSocket hub, so clients connected to any instance see turns run
// on every other instance.
package websocket

import (
	"context"
	"fmt"
	"sync/atomic"

	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/logutil"
)

// EventSource delivers events published by other instances.
type EventSource interface {
	SubscribeEvents(ctx context.Context, fn func(ports.Event)) error
}

// Bridge forwards bus events to a local publisher.
type Bridge struct {
	source  EventSource
	local   ports.EventPublisher
	logger  *logutil.Logger
	relayed atomic.Int64
	dropped atomic.Int64
}

// NewBridge creates a bridge from source to local.
func NewBridge(source EventSource, local ports.EventPublisher, logger *logutil.Logger) *Bridge {
	return &Bridge{
		source: source,
		local:  local,
		logger: logutil.OrGlobal(logger).Component("event_bridge"),
	}
}

// Start subscribes to the bus. Relaying stops when ctx ends.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.source.SubscribeEvents(ctx, func(ev ports.Event) { b.relay(ctx, ev) }); err != nil {
		return fmt.Errorf("failed to subscribe to bus events: %w", err)
	}
	b.logger.Info("Event bridge started")
	return nil
}

func (b *Bridge) relay(ctx context.Context, ev ports.Event) {
	if ctx.Err() != nil {
		return
	}
	if err := b.local.PublishEvent(ctx, ev); err != nil {
		b.dropped.Add(1)
		b.logger.Debug("Failed to relay event", logutil.Fields{"type": ev.Type, "error": err.Error()})
		return
	}
	b.relayed.Add(1)
}

// Stats returns relay counters.
func (b *Bridge) Stats() map[string]int64 {
	return map[string]int64{
		"relayed": b.relayed.Load(),
		"dropped": b.dropped.Load(),
	}
}
