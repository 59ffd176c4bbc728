// Package gpubsub is a msgbroker.MsgBroker backed by Google Cloud Pub/Sub.
package gpubsub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/msgbroker"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var log = golog.Logger("gpubsub")

const (
	emulatorHostEnv   = "PUBSUB_EMULATOR_HOST"
	emulatorProjectID = "bids-emulator"
	adminTimeout      = time.Second * 10
)

// PubsubMsgBroker is an implementation of MsgBroker for Google PubSub.
type PubsubMsgBroker struct {
	subsName    string
	topicPrefix string

	client              *pubsub.Client
	clientCtx           context.Context
	clientCtxCancel     context.CancelFunc
	receivingHandlersWg sync.WaitGroup

	topicCacheLock sync.Mutex
	topicCache     map[string]*pubsub.Topic

	metrics metricsCollector
}

var _ msgbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new *PubsubMsgBroker. If projectID or apiKey are empty, it
// expects PUBSUB_EMULATOR_HOST to point to an emulator.
// topicPrefix is prepended to every topic name so environments sharing a
// project don't collide. subsName names the subscriptions of the caller.
func New(projectID, apiKey, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	if subsName == "" {
		return nil, errors.New("subscription name is empty")
	}

	var opts []option.ClientOption
	if projectID == "" || apiKey == "" {
		if os.Getenv(emulatorHostEnv) == "" {
			return nil, errors.New("project-id and api-key are required outside the emulator")
		}
		log.Warnf("running in emulator mode at %s", os.Getenv(emulatorHostEnv))
		if projectID == "" {
			projectID = emulatorProjectID
		}
	} else {
		opts = append(opts, option.WithCredentialsJSON([]byte(apiKey)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	p := &PubsubMsgBroker{
		subsName:        subsName,
		topicPrefix:     topicPrefix,
		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,
		topicCache:      map[string]*pubsub.Topic{},
		metrics:         noopMetricsCollector{},
	}
	p.initMetrics()

	return p, nil
}

// RegisterTopicHandler registers a handler to a topic. The subscription is
// created if it doesn't exist yet.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	tn msgbroker.TopicName,
	handler msgbroker.TopicHandler,
	opts ...msgbroker.Option) error {
	config, err := msgbroker.ApplyRegisterHandlerOptions(opts...)
	if err != nil {
		return fmt.Errorf("applying options: %s", err)
	}

	topicName := p.topicPrefix + string(tn)
	topic, err := p.getTopic(topicName)
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	subName := topicName + "-" + p.subsName
	sub, err := p.getSubscription(topic, subName, config)
	if err != nil {
		return err
	}

	p.receivingHandlersWg.Add(1)
	go func() {
		defer p.receivingHandlersWg.Done()
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			log.Debugf("%s handling message %s", subName, m.ID)
			start := time.Now()
			err := handler(ctx, m.Data)
			p.metrics.onHandle(ctx, topicName, time.Since(start), err)
			if err != nil {
				log.Errorf("%s handling message %s: %s", subName, m.ID, err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil {
			log.Errorf("receive handler subscription %s, topic %s: %s", subName, topicName, err)
		}
	}()

	log.Debugf("registered handler for %s", subName)
	return nil
}

// PublishMsg publishes a message to the desired topic.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, tn msgbroker.TopicName, data []byte) error {
	return p.PublishMsgs(ctx, tn, [][]byte{data})
}

// PublishMsgs publishes a batch of messages to the desired topic, letting the
// client bundle them. It waits for every result.
func (p *PubsubMsgBroker) PublishMsgs(ctx context.Context, tn msgbroker.TopicName, data [][]byte) error {
	topicName := p.topicPrefix + string(tn)
	topic, err := p.getTopic(topicName)
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	results := make([]*pubsub.PublishResult, len(data))
	for i, d := range data {
		results[i] = topic.Publish(ctx, &pubsub.Message{Data: d})
	}

	var firstErr error
	for _, r := range results {
		_, err := r.Get(ctx)
		p.metrics.onPublish(ctx, topicName, err)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publishing to pubsub: %s", err)
		}
	}
	return firstErr
}

// Close closes the message broker. It waits for running handlers to return.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	p.receivingHandlersWg.Wait()

	p.topicCacheLock.Lock()
	for _, topic := range p.topicCache {
		topic.Stop()
	}
	p.topicCacheLock.Unlock()

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing pubsub client: %s", err)
	}
	return nil
}

func (p *PubsubMsgBroker) getSubscription(
	topic *pubsub.Topic,
	subName string,
	config msgbroker.RegisterHandlerConfig) (*pubsub.Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	it := topic.Subscriptions(ctx)
	for {
		sub, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("looking for subscription: %s", err)
		}
		if sub.ID() == subName {
			return sub, nil
		}
	}

	log.Warnf("creating subscription %s for topic %s", subName, topic.ID())
	sub, err := p.client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: config.AckDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %s", err)
	}
	return sub, nil
}

func (p *PubsubMsgBroker) getTopic(name string) (*pubsub.Topic, error) {
	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[name]
	if ok {
		return topic, nil
	}

	topic = p.client.Topic(name)
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", name)

		topic, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", name, err)
		}
	}
	p.topicCache[name] = topic

	return topic, nil
}
