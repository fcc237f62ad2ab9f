// Package natsutil provides typed JSON publish/subscribe/request helpers
// over NATS with OpenTelemetry trace propagation in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
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
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

func extract(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
}

// Publish serializes v as JSON and publishes it to subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Malformed
// messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		handler(extract(msg), v)
	})
}

// Request sends a JSON request and decodes the JSON reply. Uses
// nats.DefaultTimeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	reply, err := nc.RequestMsg(msg, nats.DefaultTimeout)
	if err != nil {
		return zero, err
	}
	var out Resp
	if err := json.Unmarshal(reply.Data, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// ErrorReply is sent by Respond when the handler fails.
type ErrorReply struct {
	Error string `json:"error"`
}

// Respond serves request/reply on subject. A malformed request or a
// handler error is answered with an ErrorReply.
func Respond[Req, Resp any](nc *nats.Conn, subject string, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		var req Req
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				reply(msg, ErrorReply{Error: "malformed request: " + err.Error()})
				return
			}
		}
		resp, err := handler(extract(msg), req)
		if err != nil {
			reply(msg, ErrorReply{Error: err.Error()})
			return
		}
		reply(msg, resp)
	})
}

func reply(msg *nats.Msg, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(ErrorReply{Error: err.Error()})
	}
	_ = msg.Respond(data)
}

// Publisher publishes JSON events under a subject prefix. Failures are
// logged, not returned.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher creates a Publisher. A nil logger uses slog.Default().
func NewPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, prefix: strings.Trim(prefix, "."), logger: logger}
}

// Subject joins the prefix and suffix with a dot.
func (p *Publisher) Subject(suffix string) string {
	return Subject(p.prefix, suffix)
}

// Emit publishes v to Subject(suffix).
func (p *Publisher) Emit(ctx context.Context, suffix string, v any) {
	subject := p.Subject(suffix)
	if p.nc == nil {
		return
	}
	if err := Publish(ctx, p.nc, subject, v); err != nil {
		p.logger.Warn("nats publish failed", "subject", subject, "err", err)
	}
}

// Subject joins non-empty tokens with dots.
func Subject(prefix, suffix string) string {
	prefix = strings.Trim(prefix, ".")
	suffix = strings.Trim(suffix, ".")
	switch {
	case prefix == "":
		return suffix
	case suffix == "":
		return prefix
	default:
		return prefix + "." + suffix
	}
}
