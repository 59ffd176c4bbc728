package msgbroker

import (
	"context"
	"errors"
	"fmt"
)

// TopicHandler is function that processes a received message.
// If no error is returned, the message will be automatically acked.
// If an error is returned, the message will be automatically nacked.
type TopicHandler func(context.Context, []byte) error

// MsgBroker is a message-broker for async message communication.
type MsgBroker interface {
	// RegisterTopicHandler registers a handler to a topic, with a defined
	// subscription defined by the underlying implementation. Is highly recommended
	// to register handlers in a type-safe way using RegisterHandlers().
	RegisterTopicHandler(topic TopicName, handler TopicHandler, opts ...Option) error

	// PublishMsg publishes a message to the desired topic.
	PublishMsg(ctx context.Context, topicName TopicName, data []byte) error

	// PublishMsgs publishes a batch of messages to the desired topic. It
	// returns after every message was published or the first one failed.
	PublishMsgs(ctx context.Context, topicName TopicName, data [][]byte) error
}

// TopicName is a topic name.
type TopicName string

const (
	// BidPlacedTopic is the topic name for bid-placed messages.
	BidPlacedTopic TopicName = "bid-placed"
	// BidCancelledTopic is the topic name for bid-cancelled messages.
	BidCancelledTopic TopicName = "bid-cancelled"
)

// BidPlacedListener is a handler for bid-placed topic.
type BidPlacedListener interface {
	OnBidPlaced(context.Context, Envelope, BidPlaced) error
}

// BidCancelledListener is a handler for bid-cancelled topic.
type BidCancelledListener interface {
	OnBidCancelled(context.Context, Envelope, BidCancelled) error
}

// RegisterHandlers automatically calls mb.RegisterTopicHandler in the methods that
// s might satisfy on known XXXListener interfaces. This allows to automatically wire
// s to receive messages from topics of implemented handlers.
func RegisterHandlers(mb MsgBroker, s interface{}, opts ...Option) error {
	var countRegistered int
	if l, ok := s.(BidPlacedListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(BidPlacedTopic, func(ctx context.Context, data []byte) error {
			env, err := decodeEnvelope(data, EventBidPlaced)
			if err != nil {
				return err
			}
			var payload BidPlaced
			if err := env.DecodePayload(&payload); err != nil {
				return fmt.Errorf("unmarshal bid placed: %s", err)
			}
			if payload.SignedMessage == "" {
				return errors.New("signed message is empty")
			}
			if err := l.OnBidPlaced(ctx, env, payload); err != nil {
				return fmt.Errorf("calling bid-placed handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for bid-placed topic: %s", err)
		}
	}

	if l, ok := s.(BidCancelledListener); ok {
		countRegistered++
		err := mb.RegisterTopicHandler(BidCancelledTopic, func(ctx context.Context, data []byte) error {
			env, err := decodeEnvelope(data, EventBidCancelled)
			if err != nil {
				return err
			}
			var payload BidCancelled
			if err := env.DecodePayload(&payload); err != nil {
				return fmt.Errorf("unmarshal bid cancelled: %s", err)
			}
			if payload.CancelDate < 1 {
				return fmt.Errorf("cancel date %d is invalid", payload.CancelDate)
			}
			if err := l.OnBidCancelled(ctx, env, payload); err != nil {
				return fmt.Errorf("calling bid-cancelled handler: %s", err)
			}
			return nil
		}, opts...)
		if err != nil {
			return fmt.Errorf("registering handler for bid-cancelled topic: %s", err)
		}
	}

	if countRegistered == 0 {
		return errors.New("no handlers were registered")
	}

	return nil
}

func decodeEnvelope(data []byte, want EventType) (Envelope, error) {
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return Envelope{}, err
	}
	if env.EventType != want {
		return Envelope{}, fmt.Errorf("unexpected event type %s, want %s", env.EventType, want)
	}
	return env, nil
}
