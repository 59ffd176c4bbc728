package fakemsgbroker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	mbroker "github.com/zer0-os/bids-core/msgbroker"
)

// ErrUnavailable is returned by publishes while the broker is failing.
var ErrUnavailable = errors.New("broker unavailable")

// FakeMsgBroker is an in-memory message broker. Published messages are kept
// per topic and delivered synchronously to registered handlers.
type FakeMsgBroker struct {
	lock          sync.Mutex
	topicMessages map[string][][]byte
	handlers      map[string][]mbroker.TopicHandler
	failures      int
	attempts      int
}

var _ mbroker.MsgBroker = (*FakeMsgBroker)(nil)

func New() *FakeMsgBroker {
	return &FakeMsgBroker{
		topicMessages: map[string][][]byte{},
		handlers:      map[string][]mbroker.TopicHandler{},
	}
}

func (b *FakeMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	opts ...mbroker.Option) error {
	if _, err := mbroker.ApplyRegisterHandlerOptions(opts...); err != nil {
		return fmt.Errorf("applying options: %s", err)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.handlers[string(topicName)] = append(b.handlers[string(topicName)], handler)
	return nil
}

func (b *FakeMsgBroker) PublishMsg(ctx context.Context, topicName mbroker.TopicName, data []byte) error {
	return b.PublishMsgs(ctx, topicName, [][]byte{data})
}

func (b *FakeMsgBroker) PublishMsgs(ctx context.Context, topicName mbroker.TopicName, data [][]byte) error {
	b.lock.Lock()
	b.attempts++
	if b.failures > 0 {
		b.failures--
		b.lock.Unlock()
		return ErrUnavailable
	}
	b.topicMessages[string(topicName)] = append(b.topicMessages[string(topicName)], data...)
	handlers := append([]mbroker.TopicHandler(nil), b.handlers[string(topicName)]...)
	b.lock.Unlock()

	for _, h := range handlers {
		for _, d := range data {
			if err := h(ctx, d); err != nil {
				return fmt.Errorf("handling message: %s", err)
			}
		}
	}
	return nil
}

// Helpers for tests

// SetFailures makes the next n publishes fail with ErrUnavailable.
func (b *FakeMsgBroker) SetFailures(n int) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.failures = n
}

// PublishAttempts returns the number of publish calls, including failed ones.
func (b *FakeMsgBroker) PublishAttempts() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.attempts
}

func (b *FakeMsgBroker) TotalPublished() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	var count int
	for _, msgs := range b.topicMessages {
		count += len(msgs)
	}

	return count
}

func (b *FakeMsgBroker) TotalPublishedTopic(name mbroker.TopicName) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.topicMessages[string(name)])
}

func (b *FakeMsgBroker) GetMsg(name mbroker.TopicName, idx int) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	topic := b.topicMessages[string(name)]
	if idx >= len(topic) {
		return nil, fmt.Errorf("topic queue has length %d smaller than idx access %d", len(topic), idx)
	}

	return topic[idx], nil
}

// GetEnvelope returns the idx-th message of a topic as an envelope.
func (b *FakeMsgBroker) GetEnvelope(name mbroker.TopicName, idx int) (mbroker.Envelope, error) {
	data, err := b.GetMsg(name, idx)
	if err != nil {
		return mbroker.Envelope{}, err
	}
	return mbroker.UnmarshalEnvelope(data)
}
