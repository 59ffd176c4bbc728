// Package fakechain provides an in-memory bids.ChainOracle for tests.
package fakechain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
)

// FakeChain is a scriptable chain. Payloads are the keccak256 hash of the
// packed arguments, which is what the ledger contract does.
type FakeChain struct {
	lock         sync.Mutex
	height       uint64
	defaultToken common.Address
	tokens       map[string]common.Address
	balances     map[string]*big.Int
	consumed     map[string]bool
	unavailable  map[string]bool
	reverted     map[string]bool
	calls        map[string]int
}

var _ bids.ChainOracle = (*FakeChain)(nil)

// New returns a new FakeChain paying every item with defaultToken.
func New(defaultToken common.Address) *FakeChain {
	return &FakeChain{
		defaultToken: defaultToken,
		tokens:       map[string]common.Address{},
		balances:     map[string]*big.Int{},
		consumed:     map[string]bool{},
		unavailable:  map[string]bool{},
		reverted:     map[string]bool{},
		calls:        map[string]int{},
	}
}

// SetHeight sets the current block height.
func (c *FakeChain) SetHeight(h uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.height = h
}

// SetBalance sets the balance of account in token.
func (c *FakeChain) SetBalance(token, account common.Address, bal *big.Int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.balances[token.Hex()+account.Hex()] = bal
}

// SetPaymentToken sets the payment token of tokenID.
func (c *FakeChain) SetPaymentToken(tokenID *big.Int, token common.Address) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.tokens[tokenID.String()] = token
}

// Consume marks the nonce of account as consumed.
func (c *FakeChain) Consume(account common.Address, nonce *big.Int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.consumed[account.Hex()+nonce.String()] = true
}

// SetUnavailable makes calls to method fail with bids.ErrChainUnavailable.
func (c *FakeChain) SetUnavailable(method string, unavailable bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.unavailable[method] = unavailable
}

// SetReverted makes calls to method fail with bids.ErrChainReverted.
func (c *FakeChain) SetReverted(method string, reverted bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.reverted[method] = reverted
}

// Calls returns how many times method was called.
func (c *FakeChain) Calls(method string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.calls[method]
}

// TotalCalls returns how many chain calls were made.
func (c *FakeChain) TotalCalls() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	var total int
	for _, n := range c.calls {
		total += n
	}
	return total
}

func (c *FakeChain) EncodeBid(
	_ context.Context,
	nonce, bidAmount *big.Int,
	nftAddress common.Address,
	tokenID, minimumBid, startBlock, expireBlock *big.Int) ([]byte, error) {
	if err := c.enter("createBid"); err != nil {
		return nil, err
	}
	return crypto.Keccak256(
		common.LeftPadBytes(nonce.Bytes(), 32),
		common.LeftPadBytes(bidAmount.Bytes(), 32),
		nftAddress.Bytes(),
		common.LeftPadBytes(tokenID.Bytes(), 32),
		common.LeftPadBytes(minimumBid.Bytes(), 32),
		common.LeftPadBytes(startBlock.Bytes(), 32),
		common.LeftPadBytes(expireBlock.Bytes(), 32),
	), nil
}

func (c *FakeChain) EncodeBidV2(
	_ context.Context,
	nonce, bidAmount, tokenID, minimumBid, startBlock, expireBlock *big.Int,
	bidToken common.Address) ([]byte, error) {
	if err := c.enter("createBidV2"); err != nil {
		return nil, err
	}
	return crypto.Keccak256(
		common.LeftPadBytes(nonce.Bytes(), 32),
		common.LeftPadBytes(bidAmount.Bytes(), 32),
		common.LeftPadBytes(tokenID.Bytes(), 32),
		common.LeftPadBytes(minimumBid.Bytes(), 32),
		common.LeftPadBytes(startBlock.Bytes(), 32),
		common.LeftPadBytes(expireBlock.Bytes(), 32),
		bidToken.Bytes(),
	), nil
}

func (c *FakeChain) BlockHeight(context.Context) (uint64, error) {
	if err := c.enter("blockNumber"); err != nil {
		return 0, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.height, nil
}

func (c *FakeChain) Balance(_ context.Context, token, account common.Address) (*big.Int, error) {
	if err := c.enter("balanceOf"); err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if bal, ok := c.balances[token.Hex()+account.Hex()]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (c *FakeChain) PaymentToken(_ context.Context, tokenID *big.Int) (common.Address, error) {
	if err := c.enter("getPaymentTokenForDomain"); err != nil {
		return common.Address{}, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if tok, ok := c.tokens[tokenID.String()]; ok {
		return tok, nil
	}
	return c.defaultToken, nil
}

func (c *FakeChain) IsNonceConsumed(_ context.Context, account common.Address, nonce *big.Int) (bool, error) {
	if err := c.enter("consumed"); err != nil {
		return false, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.consumed[account.Hex()+nonce.String()], nil
}

func (c *FakeChain) RecoverSigner(_ context.Context, payload, signature []byte) (common.Address, error) {
	return codec.RecoverAddress(payload, signature)
}

func (c *FakeChain) enter(method string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.calls[method]++
	if c.unavailable[method] {
		return fmt.Errorf("calling %s: %w", method, bids.ErrChainUnavailable)
	}
	if c.reverted[method] {
		return fmt.Errorf("calling %s: %w: execution reverted", method, bids.ErrChainReverted)
	}
	return nil
}

// Sign signs payload the way wallets do, returning a hex signature with a
// 27/28 recovery id.
func Sign(key *ecdsa.PrivateKey, payload []byte) (string, error) {
	sig, err := crypto.Sign(codec.SignedMessageHash(payload), key)
	if err != nil {
		return "", fmt.Errorf("signing payload: %s", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// Address returns the lowercase hex address of key, to exercise case-insensitive matching.
func Address(key *ecdsa.PrivateKey) string {
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}
