// Package notifier publishes bid events off the request path.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/avast/retry-go"
	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/msgbroker"
)

var log = golog.Logger("bidsd/notifier")

// Notifier publishes events in the background. A publish is retried with a
// bounded backoff. Nothing but the publish is ever retried.
type Notifier struct {
	mb    msgbroker.MsgBroker
	conf  config
	queue chan msgbroker.Envelope

	// lock guards closed and orders enqueues before the final drain.
	lock   sync.Mutex
	closed bool

	onceClose       sync.Once
	daemonCtx       context.Context
	daemonCancelCtx context.CancelFunc
	daemonClosed    chan struct{}

	metrics metricsCollector
}

// New returns a new Notifier.
func New(mb msgbroker.MsgBroker, opts ...Option) (*Notifier, error) {
	if mb == nil {
		return nil, errors.New("message broker is nil")
	}
	cfg := defaultConfig
	for _, op := range opts {
		if err := op(&cfg); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	ctx, cls := context.WithCancel(context.Background())
	n := &Notifier{
		mb:    mb,
		conf:  cfg,
		queue: make(chan msgbroker.Envelope, cfg.queueSize),

		daemonCtx:       ctx,
		daemonCancelCtx: cls,
		daemonClosed:    make(chan struct{}),

		metrics: noopMetricsCollector{},
	}
	n.initMetrics()

	go n.daemon()

	return n, nil
}

// BidPlaced enqueues the BidPlaced event of b.
func (n *Notifier) BidPlaced(b bids.Bid) {
	env, err := msgbroker.BidPlacedEnvelope(b)
	if err != nil {
		log.Errorf("creating bid-placed event of %s: %s", b.ItemID, err)
		return
	}
	n.Notify(env)
}

// BidCancelled enqueues the BidCancelled event of b.
func (n *Notifier) BidCancelled(b bids.Bid) {
	env, err := msgbroker.BidCancelledEnvelope(b)
	if err != nil {
		log.Errorf("creating bid-cancelled event of %s: %s", b.ItemID, err)
		return
	}
	n.Notify(env)
}

// Notify enqueues an event. It never blocks: the event is dropped if the
// queue is full or the notifier is closed.
func (n *Notifier) Notify(env msgbroker.Envelope) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		log.Errorf("dropping %s event %s: notifier is closed", env.EventType, env.ID)
		n.metrics.onDropped(context.Background(), env.EventType)
		return
	}
	select {
	case n.queue <- env:
	default:
		log.Errorf("dropping %s event %s: queue is full", env.EventType, env.ID)
		n.metrics.onDropped(context.Background(), env.EventType)
	}
}

// Close stops the notifier. Pending events are published before it returns.
func (n *Notifier) Close() error {
	n.onceClose.Do(func() {
		n.lock.Lock()
		n.closed = true
		n.lock.Unlock()

		n.daemonCancelCtx()
		<-n.daemonClosed
	})
	return nil
}

func (n *Notifier) daemon() {
	defer close(n.daemonClosed)
	for {
		select {
		case <-n.daemonCtx.Done():
			n.drain()
			log.Infof("notifier closed")
			return
		case env := <-n.queue:
			n.publish(env)
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case env := <-n.queue:
			n.publish(env)
		default:
			return
		}
	}
}

// publish isn't bound to the daemon context, so closing the notifier lets
// in-flight events finish their attempts.
func (n *Notifier) publish(env msgbroker.Envelope) {
	ctx := context.Background()
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(ctx, n.conf.publishTimeout)
			defer cancel()
			return msgbroker.Publish(ctx, n.mb, env)
		},
		retry.Attempts(n.conf.attempts),
		retry.Delay(n.conf.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warnf("publishing %s event %s (attempt %d): %s", env.EventType, env.ID, attempt+1, err)
		}),
	)
	n.metrics.onPublish(ctx, env.EventType, err)
	if err != nil {
		log.Errorf("giving up publishing %s event %s: %s", env.EventType, env.ID, err)
		return
	}
	log.Debugf("published %s event %s", env.EventType, env.ID)
}
