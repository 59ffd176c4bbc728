// Package chainclient reads ledger contract and ERC20 state through an
// Ethereum JSON-RPC endpoint.
package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/avast/retry-go"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
)

var log = golog.Logger("bidsd/chainclient")

// Backend is the subset of an Ethereum client used to read chain state.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config configures a Client.
type Config struct {
	// LedgerAddress is the address of the ledger contract.
	LedgerAddress common.Address
	// CallTimeout bounds every single RPC call.
	CallTimeout time.Duration
	// Attempts is the number of tries of a failing read.
	Attempts uint
	// RetryDelay is the base delay between tries, doubled on every retry.
	RetryDelay time.Duration
	// TokenCacheSize is the number of payment tokens kept, keyed by token id.
	TokenCacheSize int
	// TokenCacheTTL is how long a resolved payment token is trusted.
	TokenCacheTTL time.Duration
}

// DefaultConfig is the default client configuration.
var DefaultConfig = Config{
	CallTimeout:    time.Second * 10,
	Attempts:       3,
	RetryDelay:     time.Second * 2,
	TokenCacheSize: 1024,
	TokenCacheTTL:  time.Minute * 10,
}

// Client is a bids.ChainOracle backed by the ledger contract.
type Client struct {
	backend  Backend
	ledger   *bind.BoundContract
	erc20ABI abi.ABI
	conf     Config

	tokens *cache.Cache[string, common.Address]

	metrics metricsCollector
}

var _ bids.ChainOracle = (*Client)(nil)

// New returns a new Client.
func New(backend Backend, conf Config) (*Client, error) {
	if conf.LedgerAddress == (common.Address{}) {
		return nil, errors.New("ledger address is empty")
	}
	if conf.Attempts == 0 {
		return nil, errors.New("attempts should be positive")
	}
	if conf.TokenCacheSize <= 0 {
		return nil, errors.New("token cache size should be positive")
	}
	if conf.CallTimeout <= 0 {
		return nil, errors.New("call timeout should be positive")
	}
	ledgerABI, err := abi.JSON(strings.NewReader(ledgerABI))
	if err != nil {
		return nil, fmt.Errorf("parsing ledger abi: %s", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parsing erc20 abi: %s", err)
	}

	c := &Client{
		backend:  backend,
		ledger:   bind.NewBoundContract(conf.LedgerAddress, ledgerABI, backend, nil, nil),
		erc20ABI: erc20ABI,
		conf:     conf,
		tokens:   cache.New(cache.AsLRU[string, common.Address](lru.WithCapacity(conf.TokenCacheSize))),
		metrics:  noopMetricsCollector{},
	}
	c.initMetrics()
	return c, nil
}

// EncodeBid returns the ledger payload of a bid naming an NFT contract.
func (c *Client) EncodeBid(
	ctx context.Context,
	nonce, bidAmount *big.Int,
	nftAddress common.Address,
	tokenID, minimumBid, startBlock, expireBlock *big.Int) ([]byte, error) {
	out, err := c.callLedger(ctx, "createBid",
		nonce, bidAmount, nftAddress, tokenID, minimumBid, startBlock, expireBlock)
	if err != nil {
		return nil, err
	}
	payload := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return payload[:], nil
}

// EncodeBidV2 returns the ledger payload of a bid naming a payment token.
func (c *Client) EncodeBidV2(
	ctx context.Context,
	nonce, bidAmount, tokenID, minimumBid, startBlock, expireBlock *big.Int,
	bidToken common.Address) ([]byte, error) {
	out, err := c.callLedger(ctx, "createBidV2",
		nonce, bidAmount, tokenID, minimumBid, startBlock, expireBlock, bidToken)
	if err != nil {
		return nil, err
	}
	payload := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return payload[:], nil
}

// BlockHeight returns the latest block number.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.retry(ctx, "blockNumber", func(ctx context.Context) error {
		var err error
		height, err = c.backend.BlockNumber(ctx)
		return err
	})
	return height, err
}

// Balance returns the balance of account in the ERC20 token.
func (c *Client) Balance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	erc20 := bind.NewBoundContract(token, c.erc20ABI, c.backend, nil, nil)
	var out []interface{}
	err := c.retry(ctx, "balanceOf", func(ctx context.Context) error {
		out = nil
		return erc20.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account)
	})
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// PaymentToken returns the token bids for tokenID must be paid with. Domains
// without a specific token fall back to the ledger default token. Results are
// cached per token id.
func (c *Client) PaymentToken(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	key := tokenID.String()
	if token, ok := c.tokens.Get(key); ok {
		c.metrics.onTokenCache(ctx, true)
		return token, nil
	}
	c.metrics.onTokenCache(ctx, false)

	out, err := c.callLedger(ctx, "getPaymentTokenForDomain", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	token := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if token == (common.Address{}) {
		out, err := c.callLedger(ctx, "token")
		if err != nil {
			return common.Address{}, err
		}
		token = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	}

	c.tokens.Set(key, token, cache.WithExpiration(c.conf.TokenCacheTTL))
	log.Debugf("payment token of %s resolved to %s", key, token)
	return token, nil
}

// InvalidateToken forgets the cached payment token of tokenID.
func (c *Client) InvalidateToken(tokenID *big.Int) {
	c.tokens.Delete(tokenID.String())
}

// IsNonceConsumed returns true if the ledger consumed nonce for account.
func (c *Client) IsNonceConsumed(ctx context.Context, account common.Address, nonce *big.Int) (bool, error) {
	out, err := c.callLedger(ctx, "consumed", account, nonce)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// RecoverSigner returns the signer of payload. Recovery is local, so it never
// fails with bids.ErrChainUnavailable.
func (c *Client) RecoverSigner(_ context.Context, payload, signature []byte) (common.Address, error) {
	return codec.RecoverAddress(payload, signature)
}

func (c *Client) callLedger(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := c.retry(ctx, method, func(ctx context.Context) error {
		out = nil
		return c.ledger.Call(&bind.CallOpts{Context: ctx}, &out, method, args...)
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return out, nil
}

func (c *Client) retry(ctx context.Context, method string, f func(context.Context) error) error {
	start := time.Now()
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(ctx, c.conf.CallTimeout)
			defer cancel()
			return f(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(c.conf.Attempts),
		retry.Delay(c.conf.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !isRevert(err) }),
		retry.OnRetry(func(n uint, err error) {
			log.Debugf("calling %s failed (attempt %d): %s", method, n+1, err)
		}),
	)
	c.metrics.onCall(ctx, method, time.Since(start), err)
	if err != nil {
		if isRevert(err) {
			return fmt.Errorf("calling %s: %w: %s", method, bids.ErrChainReverted, err)
		}
		return fmt.Errorf("calling %s: %w: %s", method, bids.ErrChainUnavailable, err)
	}
	return nil
}

// isRevert reports whether err is the node refusing the call, as opposed to
// failing to answer it.
func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "execution reverted")
}
