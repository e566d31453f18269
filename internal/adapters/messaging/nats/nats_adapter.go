package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"ollamachat/internal/domain/ports"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/logutil"
)

// publishAckTimeout bounds the wait for a JetStream acknowledgment.
const publishAckTimeout = 2 * time.Second

// Options configures the NATS connection.
type Options struct {
	URL        string
	JetStream  bool
	InstanceID string
	MaxAge     time.Duration
}

// Adapter implements the MessagingPort interface using NATS. It also
// publishes conversation events so several server instances can share
// realtime updates.
type Adapter struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	instanceID string
	logger     *logutil.Logger
	subs       map[string]*nats.Subscription
	subsMutex  sync.RWMutex
}

var (
	_ ports.MessagingPort  = (*Adapter)(nil)
	_ ports.EventPublisher = (*Adapter)(nil)
)

// NewAdapter creates a new NATS messaging adapter
func NewAdapter(opts Options, logger *logutil.Logger) (*Adapter, error) {
	if opts.URL == "" {
		opts.URL = constants.DefaultNATSURL
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = constants.DefaultStreamMaxAge
	}
	logger = logutil.OrGlobal(logger).Component("nats")

	conn, err := nats.Connect(opts.URL,
		nats.ReconnectWait(constants.NATSReconnectWait),
		nats.MaxReconnects(constants.NATSMaxReconnects),
		nats.Timeout(constants.NATSConnectTimeout),
		nats.Name(constants.ServiceName+"-events"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Disconnected from NATS", logutil.Fields{"error": err.Error()})
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Reconnected to NATS", logutil.Fields{"url": c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	adapter := &Adapter{
		conn:       conn,
		instanceID: opts.InstanceID,
		logger:     logger,
		subs:       make(map[string]*nats.Subscription),
	}

	if opts.JetStream {
		js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}
		adapter.js = js

		if err := adapter.setupStreams(opts.MaxAge); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to setup JetStream streams: %w", err)
		}
	}

	logger.Info("Connected to NATS", logutil.Fields{"url": conn.ConnectedUrl(), "jetstream": opts.JetStream})
	return adapter, nil
}

// streamConfigs lists the streams that retain published events.
func streamConfigs(maxAge time.Duration) []*nats.StreamConfig {
	return []*nats.StreamConfig{
		{
			Name:      constants.ConversationStream,
			Subjects:  []string{ports.SubjectConversationAll},
			Retention: nats.LimitsPolicy,
			MaxAge:    maxAge,
			MaxMsgs:   100000,
			Storage:   nats.FileStorage,
		},
		{
			Name:      constants.BenchmarkStream,
			Subjects:  []string{ports.SubjectBenchmarkSample},
			Retention: nats.LimitsPolicy,
			MaxAge:    maxAge,
			MaxMsgs:   50000,
			Storage:   nats.FileStorage,
		},
		{
			Name:      constants.ModelStream,
			Subjects:  []string{ports.SubjectModelPull},
			Retention: nats.LimitsPolicy,
			MaxAge:    maxAge,
			MaxMsgs:   10000,
			Storage:   nats.FileStorage,
		},
	}
}

// setupStreams creates or updates the JetStream streams
func (a *Adapter) setupStreams(maxAge time.Duration) error {
	for _, cfg := range streamConfigs(maxAge) {
		info, err := a.js.StreamInfo(cfg.Name)
		switch {
		case errors.Is(err, nats.ErrStreamNotFound):
			if _, err := a.js.AddStream(cfg); err != nil {
				return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
			}
		case err != nil:
			return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
		case needsUpdate(info.Config, *cfg):
			if _, err := a.js.UpdateStream(cfg); err != nil {
				return fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// needsUpdate checks if a stream configuration needs updating
func needsUpdate(existing, desired nats.StreamConfig) bool {
	return existing.MaxAge != desired.MaxAge ||
		existing.MaxMsgs != desired.MaxMsgs ||
		existing.MaxBytes != desired.MaxBytes
}

// Publish sends a message to the specified subject
func (a *Adapter) Publish(ctx context.Context, subject string, data []byte) error {
	if a.js == nil {
		if err := a.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
		}
		return nil
	}

	future, err := a.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream subject %s: %w", subject, err)
	}
	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish to JetStream subject %s: %w", subject, err)
	case <-ctx.Done():
		return fmt.Errorf("publish timeout for subject %s: %w", subject, ctx.Err())
	case <-time.After(publishAckTimeout):
		return fmt.Errorf("publish timeout for subject %s", subject)
	}
}

// PublishJSON publishes a JSON-serializable object to the subject
func (a *Adapter) PublishJSON(ctx context.Context, subject string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object for subject %s: %w", subject, err)
	}
	return a.Publish(ctx, subject, data)
}

// PublishEvent publishes a conversation event on its subject, stamped with
// this instance's id.
func (a *Adapter) PublishEvent(ctx context.Context, event ports.Event) error {
	if event.Origin == "" {
		event.Origin = a.instanceID
	}
	return a.PublishJSON(ctx, SubjectFor(event), event)
}

// SubjectFor returns the bus subject of an event. Events outside any
// conversation use their type as subject.
func SubjectFor(event ports.Event) string {
	if event.ConversationID == "" {
		return event.Type
	}
	return ports.ConversationSubject(event.ConversationID, event.Type)
}

// SubscribeEvents delivers events published by other instances to fn.
// Events carrying this instance's origin are skipped.
func (a *Adapter) SubscribeEvents(ctx context.Context, fn func(ports.Event)) error {
	handler := func(ctx context.Context, subject string, data []byte) error {
		event, ok, err := decodeEvent(data, a.instanceID)
		if err != nil {
			return fmt.Errorf("failed to decode event on %s: %w", subject, err)
		}
		if ok {
			fn(event)
		}
		return nil
	}

	for _, subject := range []string{ports.SubjectConversationAll, ports.SubjectBenchmarkSample, ports.SubjectModelPull} {
		if err := a.subscribeCore(ctx, subject, handler); err != nil {
			return err
		}
	}
	return nil
}

// decodeEvent parses an event and reports whether it came from another instance.
func decodeEvent(data []byte, instanceID string) (ports.Event, bool, error) {
	var event ports.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return event, false, err
	}
	if instanceID != "" && event.Origin == instanceID {
		return event, false, nil
	}
	return event, true, nil
}

// Subscribe listens for messages on the specified subject
func (a *Adapter) Subscribe(ctx context.Context, subject string, handler ports.MessageHandler) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	if _, exists := a.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if a.js != nil {
		sub, err = a.js.Subscribe(subject, a.wrap(ctx, handler, true),
			nats.Durable(fmt.Sprintf("%s_%s", constants.ServiceName, sanitizeSubjectForDurable(subject))),
			nats.DeliverNew(),
			nats.AckExplicit(),
		)
	} else {
		sub, err = a.conn.Subscribe(subject, a.wrap(ctx, handler, false))
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	a.subs[subject] = sub
	return nil
}

// subscribeCore subscribes without JetStream: realtime fan-out only needs
// messages published while this instance is up.
func (a *Adapter) subscribeCore(ctx context.Context, subject string, handler ports.MessageHandler) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	if _, exists := a.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	sub, err := a.conn.Subscribe(subject, a.wrap(ctx, handler, false))
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}
	a.subs[subject] = sub
	return nil
}

func (a *Adapter) wrap(ctx context.Context, handler ports.MessageHandler, ack bool) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			a.logger.Warn("Handler error", logutil.Fields{"subject": msg.Subject, "error": err.Error()})
			return
		}
		if ack {
			if err := msg.Ack(); err != nil {
				a.logger.Debug("Failed to ack message", logutil.Fields{"subject": msg.Subject, "error": err.Error()})
			}
		}
	}
}

// Unsubscribe stops listening to a subject
func (a *Adapter) Unsubscribe(ctx context.Context, subject string) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	sub, exists := a.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", subject, err)
	}

	delete(a.subs, subject)
	return nil
}

// Close drains subscriptions and closes the connection
func (a *Adapter) Close() error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	for subject, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn("Error unsubscribing", logutil.Fields{"subject": subject, "error": err.Error()})
		}
	}
	a.subs = make(map[string]*nats.Subscription)

	if a.conn != nil {
		if err := a.conn.Drain(); err != nil {
			a.conn.Close()
		}
	}
	return nil
}

// Ping checks messaging connectivity
func (a *Adapter) Ping() error {
	if a.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	if !a.conn.IsConnected() {
		return fmt.Errorf("NATS connection is not active")
	}

	rtt, err := a.conn.RTT()
	if err != nil {
		return fmt.Errorf("failed to get RTT: %w", err)
	}
	if rtt > constants.HealthCheckTimeout {
		return fmt.Errorf("high latency detected: %v", rtt)
	}
	return nil
}

// ConnectionStatus returns connection details for the health endpoint
func (a *Adapter) ConnectionStatus() map[string]interface{} {
	status := make(map[string]interface{})
	if a.conn == nil {
		status["connected"] = false
		return status
	}

	status["connected"] = a.conn.IsConnected()
	status["url"] = a.conn.ConnectedUrl()
	status["jetstream_enabled"] = a.js != nil

	stats := a.conn.Stats()
	status["messages_in"] = stats.InMsgs
	status["messages_out"] = stats.OutMsgs
	status["reconnects"] = stats.Reconnects

	a.subsMutex.RLock()
	status["active_subscriptions"] = len(a.subs)
	a.subsMutex.RUnlock()
	return status
}

// sanitizeSubjectForDurable converts a subject pattern to a valid durable name
func sanitizeSubjectForDurable(subject string) string {
	return strings.NewReplacer(".", "_", "*", "star", ">", "gt").Replace(subject)
}
