// Package pubsub implements a Google Cloud Pub/Sub record publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/adaptive-crawler/internal/extract"
)

// Publisher wraps a Pub/Sub client, caching topic handles per topic.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher for the provided client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Publish marshals the record batch to JSON and publishes it to the
// topic, waiting for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, records []extract.Record) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshal records: %w", err)
	}

	result := p.topic(topic).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"record_count": fmt.Sprintf("%d", len(records)),
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish records: %w", err)
	}
	return id, nil
}

// Close stops the cached topic publishers.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}
