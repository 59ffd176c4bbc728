package notifier

import (
	"fmt"
	"time"
)

type config struct {
	attempts       uint
	retryDelay     time.Duration
	publishTimeout time.Duration
	queueSize      int
}

var defaultConfig = config{
	attempts:       5,
	retryDelay:     time.Millisecond * 500,
	publishTimeout: time.Second * 10,
	queueSize:      1000,
}

// Option applies a configuration change.
type Option func(*config) error

// WithAttempts configures how many times a notification is published before
// it's dropped.
func WithAttempts(attempts uint) Option {
	return func(c *config) error {
		if attempts == 0 {
			return fmt.Errorf("attempts should be positive")
		}
		c.attempts = attempts
		return nil
	}
}

// WithRetryDelay configures the base delay between attempts. It doubles on
// every retry.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *config) error {
		if delay <= 0 {
			return fmt.Errorf("retry delay should be positive")
		}
		c.retryDelay = delay
		return nil
	}
}

// WithPublishTimeout bounds every publish attempt.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return fmt.Errorf("publish timeout should be positive")
		}
		c.publishTimeout = timeout
		return nil
	}
}

// WithQueueSize configures how many notifications can be pending. Further
// notifications are dropped while the queue is full.
func WithQueueSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("queue size should be positive")
		}
		c.queueSize = size
		return nil
	}
}
