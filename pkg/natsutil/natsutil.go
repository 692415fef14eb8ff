// Package natsutil publishes and subscribes JSON messages over NATS with
// OpenTelemetry context carried in the message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier lets the OTel propagator read and write nats.Msg headers.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish encodes v as JSON and publishes it with ctx's trace headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe decodes each message into T and hands it to handler with the
// extracted trace context. Messages that fail to decode are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	})
}

// Events publishes lifecycle events under a subject prefix. A nil *Events
// drops everything, which is how events are disabled.
type Events struct {
	nc     *nats.Conn
	prefix string
}

// NewEvents binds nc to prefix. Subjects are "<prefix>.<name>".
func NewEvents(nc *nats.Conn, prefix string) *Events {
	return &Events{nc: nc, prefix: prefix}
}

// Subject returns the full subject for an event name.
func (e *Events) Subject(name string) string {
	if e == nil || e.prefix == "" {
		return name
	}
	return e.prefix + "." + name
}

// Emit publishes v as event name.
func (e *Events) Emit(ctx context.Context, name string, v any) error {
	if e == nil || e.nc == nil {
		return nil
	}
	return Publish(ctx, e.nc, e.Subject(name), v)
}
