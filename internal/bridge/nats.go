package bridge

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSTransport carries the backend stream over a single NATS connection.
type NATSTransport struct {
	conn *nats.Conn
}

func NewNATSTransport(natsURL, clientName string) (*NATSTransport, error) {
	nc, err := nats.Connect(natsURL, nats.Name(clientName), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSTransport{conn: nc}, nil
}

func (t *NATSTransport) Publish(_ context.Context, subject string, data []byte) error {
	return t.conn.Publish(subject, data)
}

func (t *NATSTransport) Subscribe(subject string, handler func([]byte)) (Subscription, error) {
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %q: %w", subject, err)
	}
	return sub, nil
}

// Close drains the NATS connection.
func (t *NATSTransport) Close() error {
	return t.conn.Drain()
}
