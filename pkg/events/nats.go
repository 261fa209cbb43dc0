package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. credentials, name) can be appended.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("subhook"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event to topic. Events with a MessageID carry it in the
// Nats-Msg-Id header so JetStream streams drop redeliveries.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := nats.NewMsg(topic)
	msg.Data = data
	if id, ok := event.(identified); ok && id.MessageID() != "" {
		msg.Header.Set(nats.MsgIdHdr, id.MessageID())
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// defaultFlushTimeout bounds Flush when ctx carries no deadline;
// nats refuses to flush without one.
const defaultFlushTimeout = 5 * time.Second

// Flush waits until the server has processed all published messages.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	return p.conn.FlushWithContext(ctx)
}

// Close flushes pending messages while still connected, then closes the connection.
func (p *NATSPublisher) Close() error {
	var err error
	if p.conn.IsConnected() {
		err = p.Flush(context.Background())
	}
	p.conn.Close()
	return err
}
