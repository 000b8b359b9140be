package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher sends events to a NATS subject per event.
type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("notify: connect: %w", err)
	}
	return &Publisher{conn: conn}, nil
}

func (p *Publisher) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", ev.Kind, err)
	}
	if err := p.conn.Publish(ev.Subject, payload); err != nil {
		return fmt.Errorf("notify: publish %s: %w", ev.Subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.conn.Close()
}
