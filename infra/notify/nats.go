package notify

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// natsPublisher is the part of *nats.Conn the sink needs.
type natsPublisher interface {
	PublishMsg(m *nats.Msg) error
	Close()
}

// NATSSink publishes core NATS messages on one subject. The order id
// travels in the Nats-Msg-Key header.
type NATSSink struct {
	conn    natsPublisher
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("fundbook"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", url)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

func (n *NATSSink) Publish(_ context.Context, key string, payload []byte) error {
	msg := nats.NewMsg(n.subject)
	msg.Header.Set("Nats-Msg-Key", key)
	msg.Data = payload
	return n.conn.PublishMsg(msg)
}

func (n *NATSSink) Close() error {
	n.conn.Close()
	return nil
}
