// Package pubsub implements a Google Cloud Pub/Sub publisher for record
// and fragment events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher wraps Pub/Sub topic publishers keyed by topic name.
type Publisher struct {
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher over the given topic publishers.
func New(publishers map[string]*pubsub.Publisher) *Publisher {
	return &Publisher{publishers: publishers}
}

// Publish marshals the payload to JSON and publishes it to the named
// topic, blocking until the server acknowledges.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	pub, ok := p.publishers[topic]
	if !ok || pub == nil {
		return "", fmt.Errorf("no publisher configured for topic %q", topic)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := pub.Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
