package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/orchard-market/api/internal/services"
)

// topicPublisher carries the Pub/Sub plumbing shared by the typed event
// publishers: JSON payloads plus trimmed string attributes for subscription
// filters.
type topicPublisher struct {
	topic   *pubsub.Topic
	kind    string
	marshal func(any) ([]byte, error)
}

func newTopicPublisher(topic *pubsub.Topic, kind string) (topicPublisher, error) {
	if topic == nil {
		return topicPublisher{}, fmt.Errorf("pubsub %s publisher: topic is required", kind)
	}
	return topicPublisher{topic: topic, kind: kind, marshal: json.Marshal}, nil
}

func (p topicPublisher) publish(ctx context.Context, payload any, attrs map[string]string) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub %s publisher: not initialised", p.kind)
	}

	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", p.kind, err)
	}

	for key, value := range attrs {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			delete(attrs, key)
			continue
		}
		attrs[key] = trimmed
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s event: %w", p.kind, err)
	}
	return nil
}

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topicPublisher
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	base, err := newTopicPublisher(topic, "order")
	if err != nil {
		return nil, err
	}
	return &PubSubOrderEventPublisher{base}, nil
}

// PublishOrderEvent enqueues an order lifecycle message on the configured topic.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil {
		return fmt.Errorf("pubsub order publisher: not initialised")
	}
	return p.publish(ctx, event, map[string]string{
		"eventType":   event.Type,
		"orderId":     event.OrderID,
		"orderNumber": event.OrderNumber,
		"userId":      event.UserID,
		"status":      string(event.CurrentStatus),
	})
}

// PubSubRefundEventPublisher publishes refund decision events to a Pub/Sub topic.
type PubSubRefundEventPublisher struct {
	topicPublisher
}

// NewPubSubRefundEventPublisher constructs a Pub/Sub backed refund event publisher.
func NewPubSubRefundEventPublisher(topic *pubsub.Topic) (*PubSubRefundEventPublisher, error) {
	base, err := newTopicPublisher(topic, "refund")
	if err != nil {
		return nil, err
	}
	return &PubSubRefundEventPublisher{base}, nil
}

// PublishRefundEvent enqueues a refund decision message on the configured topic.
func (p *PubSubRefundEventPublisher) PublishRefundEvent(ctx context.Context, event services.RefundEvent) error {
	if p == nil {
		return fmt.Errorf("pubsub refund publisher: not initialised")
	}
	return p.publish(ctx, event, map[string]string{
		"eventType": event.Type,
		"refundId":  event.RefundID,
		"orderId":   event.OrderID,
		"status":    string(event.Status),
	})
}

// PubSubReviewEventPublisher publishes review submissions to a Pub/Sub topic for
// moderation tooling.
type PubSubReviewEventPublisher struct {
	topicPublisher
}

// NewPubSubReviewEventPublisher constructs a Pub/Sub backed review event publisher.
func NewPubSubReviewEventPublisher(topic *pubsub.Topic) (*PubSubReviewEventPublisher, error) {
	base, err := newTopicPublisher(topic, "review")
	if err != nil {
		return nil, err
	}
	return &PubSubReviewEventPublisher{base}, nil
}

// PublishReviewEvent enqueues a review submission message on the configured topic.
func (p *PubSubReviewEventPublisher) PublishReviewEvent(ctx context.Context, event services.ReviewEvent) error {
	if p == nil {
		return fmt.Errorf("pubsub review publisher: not initialised")
	}
	return p.publish(ctx, event, map[string]string{
		"eventType": event.Type,
		"reviewId":  event.ReviewID,
		"spuId":     event.SPUID,
	})
}
