package msgbroker

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zer0-os/bids-core/bids"
)

// EventType is the kind of event carried by an Envelope.
type EventType string

const (
	// EventBidPlaced is emitted after a bid is stored.
	EventBidPlaced EventType = "BidPlaced"
	// EventBidCancelled is emitted after a bid is cancelled.
	EventBidCancelled EventType = "BidCancelled"
)

// SchemaVersion is the version of the envelope and payload layouts.
const SchemaVersion = 1

// Envelope wraps every published event.
type Envelope struct {
	ID            string          `json:"id"`
	EventType     EventType       `json:"eventType"`
	SchemaVersion int             `json:"schemaVersion"`
	TimestampMs   int64           `json:"timestampMs"`
	Payload       json.RawMessage `json:"payload"`
}

// BidPlaced is the payload of EventBidPlaced. It follows the wire variant of
// the bid, carrying either a contract address or a payment token.
type BidPlaced struct {
	bids.BidParams
	ItemID        string `json:"itemId"`
	SignedMessage string `json:"signedMessage"`
	Date          int64  `json:"date"`
	Version       string `json:"version"`
}

// BidCancelled is the payload of EventBidCancelled.
type BidCancelled struct {
	Account    string `json:"account"`
	Nonce      string `json:"bidNonce"`
	Version    string `json:"version"`
	ItemID     string `json:"itemId"`
	CancelDate int64  `json:"cancelDate"`
}

// NewBidPlaced returns the payload announcing b.
func NewBidPlaced(b bids.Bid) BidPlaced {
	return BidPlaced{
		BidParams:     b.BidParams,
		ItemID:        b.ItemID,
		SignedMessage: b.SignedMessage,
		Date:          b.Date,
		Version:       b.Version,
	}
}

// NewBidCancelled returns the payload announcing the cancellation of b.
func NewBidCancelled(b bids.Bid) BidCancelled {
	return BidCancelled{
		Account:    b.Account,
		Nonce:      b.Nonce,
		Version:    b.Version,
		ItemID:     b.ItemID,
		CancelDate: b.CancelDate,
	}
}

// NewEnvelope wraps payload in a new envelope with a fresh id.
func NewEnvelope(t EventType, timestampMs int64, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %s", t, err)
	}
	id, err := newID()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:            id,
		EventType:     t,
		SchemaVersion: SchemaVersion,
		TimestampMs:   timestampMs,
		Payload:       data,
	}, nil
}

// BidPlacedEnvelope returns the envelope announcing b. It's stamped with the
// placement date.
func BidPlacedEnvelope(b bids.Bid) (Envelope, error) {
	return NewEnvelope(EventBidPlaced, b.Date, NewBidPlaced(b))
}

// BidCancelledEnvelope returns the envelope announcing the cancellation of b.
// It's stamped with the cancel date.
func BidCancelledEnvelope(b bids.Bid) (Envelope, error) {
	if !b.Cancelled() {
		return Envelope{}, errors.New("bid isn't cancelled")
	}
	return NewEnvelope(EventBidCancelled, b.CancelDate, NewBidCancelled(b))
}

// Topic returns the topic where the envelope is published.
func (e Envelope) Topic() (TopicName, error) {
	switch e.EventType {
	case EventBidPlaced:
		return BidPlacedTopic, nil
	case EventBidCancelled:
		return BidCancelledTopic, nil
	default:
		return "", fmt.Errorf("unknown event type %q", e.EventType)
	}
}

// Marshal returns the wire form of the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %s", err)
	}
	return data, nil
}

// DecodePayload unmarshals the payload into v.
func (e Envelope) DecodePayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// UnmarshalEnvelope parses and validates the wire form of an envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %s", err)
	}
	if e.ID == "" {
		return Envelope{}, errors.New("envelope id is empty")
	}
	if e.SchemaVersion != SchemaVersion {
		return Envelope{}, fmt.Errorf("unsupported schema version %d", e.SchemaVersion)
	}
	if len(e.Payload) == 0 {
		return Envelope{}, errors.New("envelope payload is empty")
	}
	return e, nil
}

// Publish publishes the envelope to its topic.
func Publish(ctx context.Context, mb MsgBroker, e Envelope) error {
	topic, err := e.Topic()
	if err != nil {
		return err
	}
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s message: %s", e.EventType, err)
	}
	return nil
}

// PublishBatch publishes envelopes in one batch per topic.
func PublishBatch(ctx context.Context, mb MsgBroker, es []Envelope) error {
	batches := map[TopicName][][]byte{}
	var order []TopicName
	for _, e := range es {
		topic, err := e.Topic()
		if err != nil {
			return err
		}
		data, err := e.Marshal()
		if err != nil {
			return err
		}
		if _, ok := batches[topic]; !ok {
			order = append(order, topic)
		}
		batches[topic] = append(batches[topic], data)
	}
	for _, topic := range order {
		if err := mb.PublishMsgs(ctx, topic, batches[topic]); err != nil {
			return fmt.Errorf("publishing batch to %s: %s", topic, err)
		}
	}
	return nil
}

var (
	entropyLock sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

func newID() (string, error) {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	if entropy == nil {
		entropy = ulid.Monotonic(rand.Reader, 0)
	}
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
	if errors.Is(err, ulid.ErrMonotonicOverflow) {
		entropy = ulid.Monotonic(rand.Reader, 0)
		id, err = ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
	}
	if err != nil {
		return "", fmt.Errorf("generating id: %v", err)
	}
	return id.String(), nil
}
