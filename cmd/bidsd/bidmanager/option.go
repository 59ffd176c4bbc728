package bidmanager

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type config struct {
	defaultNFTContract string
	clock              func() time.Time
}

var defaultConfig = config{
	clock: time.Now,
}

// Option applies a configuration change.
type Option func(*config) error

// WithDefaultNFTContract configures the NFT contract used to compute the item
// id of bids that name a payment token instead of a contract.
func WithDefaultNFTContract(address string) Option {
	return func(c *config) error {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("default nft contract %q isn't an address", address)
		}
		c.defaultNFTContract = address
		return nil
	}
}

// WithClock configures the source of placement and cancel dates.
func WithClock(clock func() time.Time) Option {
	return func(c *config) error {
		if clock == nil {
			return fmt.Errorf("clock is nil")
		}
		c.clock = clock
		return nil
	}
}
