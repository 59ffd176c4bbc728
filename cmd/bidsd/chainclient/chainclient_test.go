package chainclient

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/zer0-os/bids-core/bids"
)

var (
	ledgerAddr   = common.HexToAddress("0x7D50C4B2D1C1b6d0a4F6F7B1e2C7C5b09e9bB7a1")
	defaultToken = common.HexToAddress("0x2a3bFF78B79A009976EeA096a51A948a3dC00e34")
	domainToken  = common.HexToAddress("0x8D7B7E32F16d3b8F1c0c17d0FAbAc4dDc4A87D5d")
	bidder       = common.HexToAddress("0x35888AD3f1C0b39244Bb54746B96Ee84A5d97a53")
)

func TestEncode(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)
	ctx := context.Background()

	p1, err := c.EncodeBid(ctx, big.NewInt(1), big.NewInt(100), common.HexToAddress("0x1"),
		big.NewInt(7), big.NewInt(0), big.NewInt(10), big.NewInt(20))
	require.NoError(t, err)
	require.Len(t, p1, 32)

	again, err := c.EncodeBid(ctx, big.NewInt(1), big.NewInt(100), common.HexToAddress("0x1"),
		big.NewInt(7), big.NewInt(0), big.NewInt(10), big.NewInt(20))
	require.NoError(t, err)
	require.Equal(t, p1, again)

	p2, err := c.EncodeBidV2(ctx, big.NewInt(1), big.NewInt(100), big.NewInt(7),
		big.NewInt(0), big.NewInt(10), big.NewInt(20), defaultToken)
	require.NoError(t, err)
	require.Len(t, p2, 32)
	require.NotEqual(t, p1, p2)
}

func TestPaymentTokenCache(t *testing.T) {
	t.Parallel()
	c, b := newClient(t)
	ctx := context.Background()
	b.domainTokens["7"] = domainToken

	tok, err := c.PaymentToken(ctx, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, domainToken, tok)
	tok, err = c.PaymentToken(ctx, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, domainToken, tok)
	require.Equal(t, 1, b.callCount("getPaymentTokenForDomain"))

	// A different item resolves on its own, falling back to the default token.
	tok, err = c.PaymentToken(ctx, big.NewInt(8))
	require.NoError(t, err)
	require.Equal(t, defaultToken, tok)
	require.Equal(t, 2, b.callCount("getPaymentTokenForDomain"))
	require.Equal(t, 1, b.callCount("token"))

	b.setDomainToken("7", defaultToken)
	c.InvalidateToken(big.NewInt(7))
	tok, err = c.PaymentToken(ctx, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, defaultToken, tok)
}

func TestPaymentTokenExpiration(t *testing.T) {
	t.Parallel()
	conf := testConfig()
	conf.TokenCacheTTL = time.Millisecond * 50
	c, b := newClientWithConfig(t, conf)
	ctx := context.Background()

	_, err := c.PaymentToken(ctx, big.NewInt(1))
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 100)
	_, err = c.PaymentToken(ctx, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, 2, b.callCount("getPaymentTokenForDomain"))
}

func TestReads(t *testing.T) {
	t.Parallel()
	c, b := newClient(t)
	ctx := context.Background()
	b.height = 1234
	b.balances[bidder] = big.NewInt(500)
	b.consumed[bidder.Hex()+"/9"] = true

	h, err := c.BlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), h)

	bal, err := c.Balance(ctx, defaultToken, bidder)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), bal)

	bal, err = c.Balance(ctx, defaultToken, common.HexToAddress("0x1"))
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	consumed, err := c.IsNonceConsumed(ctx, bidder, big.NewInt(9))
	require.NoError(t, err)
	require.True(t, consumed)
	consumed, err = c.IsNonceConsumed(ctx, bidder, big.NewInt(10))
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestRetries(t *testing.T) {
	t.Parallel()

	t.Run("recovers", func(t *testing.T) {
		t.Parallel()
		c, b := newClient(t)
		b.setFailures(2)
		_, err := c.IsNonceConsumed(context.Background(), bidder, big.NewInt(1))
		require.NoError(t, err)
	})

	t.Run("gives up", func(t *testing.T) {
		t.Parallel()
		c, b := newClient(t)
		b.setFailures(10)
		_, err := c.IsNonceConsumed(context.Background(), bidder, big.NewInt(1))
		require.ErrorIs(t, err, bids.ErrChainUnavailable)

		_, err = c.BlockHeight(context.Background())
		require.ErrorIs(t, err, bids.ErrChainUnavailable)
	})
}

func TestRevertIsNotRetried(t *testing.T) {
	t.Parallel()
	c, b := newClient(t)
	b.setReverting(true)

	_, err := c.IsNonceConsumed(context.Background(), bidder, big.NewInt(1))
	require.ErrorIs(t, err, bids.ErrChainReverted)
	require.NotErrorIs(t, err, bids.ErrChainUnavailable)
	require.Equal(t, 1, b.callCount("consumed"))

	_, err = c.PaymentToken(context.Background(), big.NewInt(7))
	require.ErrorIs(t, err, bids.ErrChainReverted)
	require.Equal(t, 1, b.callCount("getPaymentTokenForDomain"))

	// Nothing is cached for a reverted lookup.
	b.setReverting(false)
	token, err := c.PaymentToken(context.Background(), big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, defaultToken, token)
}

func TestRecoverSigner(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	payload := crypto.Keccak256([]byte("bid"))
	prefixed := crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32" + string(payload)))
	sig, err := crypto.Sign(prefixed, key)
	require.NoError(t, err)

	addr, err := c.RecoverSigner(context.Background(), payload, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	conf := testConfig()
	conf.LedgerAddress = common.Address{}
	_, err := New(newFakeBackend(t), conf)
	require.Error(t, err)

	conf = testConfig()
	conf.Attempts = 0
	_, err = New(newFakeBackend(t), conf)
	require.Error(t, err)
}

func testConfig() Config {
	conf := DefaultConfig
	conf.LedgerAddress = ledgerAddr
	conf.RetryDelay = time.Millisecond
	conf.CallTimeout = time.Second
	return conf
}

func newClient(t *testing.T) (*Client, *fakeBackend) {
	return newClientWithConfig(t, testConfig())
}

func newClientWithConfig(t *testing.T, conf Config) (*Client, *fakeBackend) {
	b := newFakeBackend(t)
	c, err := New(b, conf)
	require.NoError(t, err)
	return c, b
}

type fakeBackend struct {
	ledger abi.ABI
	erc20  abi.ABI

	lock         sync.Mutex
	height       uint64
	domainTokens map[string]common.Address
	balances     map[common.Address]*big.Int
	consumed     map[string]bool
	calls        map[string]int
	failures     int
	reverting    bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	ledger, err := abi.JSON(strings.NewReader(ledgerABI))
	require.NoError(t, err)
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	return &fakeBackend{
		ledger:       ledger,
		erc20:        erc20,
		domainTokens: map[string]common.Address{},
		balances:     map[common.Address]*big.Int{},
		consumed:     map[string]bool{},
		calls:        map[string]int{},
	}
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.failures > 0 {
		b.failures--
		return nil, errors.New("connection refused")
	}

	method, err := b.ledger.MethodById(msg.Data[:4])
	if err != nil {
		method, err = b.erc20.MethodById(msg.Data[:4])
		if err != nil {
			return nil, err
		}
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	b.calls[method.Name]++
	if b.reverting {
		return nil, errors.New("execution reverted: domain does not exist")
	}

	switch method.Name {
	case "createBid", "createBidV2":
		var payload [32]byte
		copy(payload[:], crypto.Keccak256([]byte(method.Name), msg.Data[4:]))
		return method.Outputs.Pack(payload)
	case "getPaymentTokenForDomain":
		return method.Outputs.Pack(b.domainTokens[args[0].(*big.Int).String()])
	case "token":
		return method.Outputs.Pack(defaultToken)
	case "consumed":
		key := args[0].(common.Address).Hex() + "/" + args[1].(*big.Int).String()
		return method.Outputs.Pack(b.consumed[key])
	case "balanceOf":
		bal, ok := b.balances[args[0].(common.Address)]
		if !ok {
			bal = big.NewInt(0)
		}
		return method.Outputs.Pack(bal)
	default:
		return nil, errors.New("unknown method " + method.Name)
	}
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.failures > 0 {
		b.failures--
		return 0, errors.New("connection refused")
	}
	return b.height, nil
}

func (b *fakeBackend) callCount(method string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.calls[method]
}

func (b *fakeBackend) setFailures(n int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.failures = n
}

func (b *fakeBackend) setReverting(reverting bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.reverting = reverting
}

func (b *fakeBackend) setDomainToken(tokenID string, token common.Address) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.domainTokens[tokenID] = token
}
