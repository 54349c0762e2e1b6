// Package pubsub implements a Google Cloud Pub/Sub event publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Config captures the parameters required to publish to Pub/Sub.
type Config struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	Topic     string `mapstructure:"topic" yaml:"topic"`
}

// Publisher wraps a Pub/Sub client and a default topic.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
}

// New creates a Publisher. Authentication comes from Application Default
// Credentials.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, defaultTopic: cfg.Topic}, nil
}

// Publish marshals the payload to JSON and publishes it. An empty topic
// falls back to the configured default.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.client.Topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
