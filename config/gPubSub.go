package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// EventMessage is the wire format of a domain event published from the outbox.
type EventMessage struct {
	EventId       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   int             `json:"reference_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationId string          `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func PubSubTopic() string {
	return os.Getenv("PUBSUB_TOPIC")
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// getPubSubClient returns the shared client, creating it on first use. Credentials
// come from PUBSUB_CREDENTIALS_JSON or Application Default Credentials.
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	c, err := retryConnect(ctx, "pubsub client (project "+projectID+")", func() (*pubsub.Client, error) {
		return pubsub.NewClient(ctx, projectID, opts...)
	})
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	return c, nil
}

// EnsureTopic creates the configured topic when it does not exist yet.
func EnsureTopic(ctx context.Context, topic string) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	c, err := getPubSubClient(ctx)
	if err != nil {
		return err
	}
	ok, err := c.Topic(topic).Exists(ctx)
	if err != nil || ok {
		return err
	}
	if _, err := c.CreateTopic(ctx, topic); err != nil {
		return fmt.Errorf("create topic %q: %w", topic, err)
	}
	return nil
}

// PubSubPublisher publishes outbox events to one topic. Events about the same record
// share an ordering key, so a push subscription with ordering enabled sees an
// invoice's status changes in commit order.
type PubSubPublisher struct {
	TopicName string

	mu    sync.Mutex
	topic *pubsub.Topic
}

func NewPubSubPublisher(topicName string) *PubSubPublisher {
	return &PubSubPublisher{TopicName: topicName}
}

func (p *PubSubPublisher) handle(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	p.topic = client.Topic(p.TopicName)
	p.topic.EnableMessageOrdering = true
	return p.topic, nil
}

func OrderingKey(msg EventMessage) string {
	return fmt.Sprintf("%s:%d", msg.ReferenceType, msg.ReferenceId)
}

// Publish returns the Pub/Sub server-assigned message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, msg EventMessage) (string, error) {
	if p.TopicName == "" {
		return "", errors.New("PUBSUB_TOPIC is required")
	}
	topic, err := p.handle(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	key := OrderingKey(msg)
	id, err := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_type":     msg.EventType,
			"correlation_id": msg.CorrelationId,
		},
	}).Get(ctx)
	if err != nil {
		// a failed publish pauses its ordering key until resumed
		topic.ResumePublish(key)
		return "", err
	}
	return id, nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
		p.topic = nil
	}
}

// ClosePubSub releases the shared client on shutdown.
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}

// PubSubPushToken, when set, must be passed as ?token= on push deliveries.
func PubSubPushToken() string {
	return os.Getenv("PUBSUB_PUSH_TOKEN")
}
