package bids

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// VersionLegacy tags bids stored before nonces and versions were explicit.
	VersionLegacy = "1.0"
	// VersionCurrent tags bids placed by this service.
	VersionCurrent = "2.0"
)

var (
	// ErrNotFound indicates the bid doesn't exist.
	ErrNotFound = errors.New("bid not found")
	// ErrBidExists indicates a bid with the same signature or (account, nonce) was already stored.
	ErrBidExists = errors.New("bid already exists")
	// ErrAlreadyCancelled indicates the bid was cancelled before.
	ErrAlreadyCancelled = errors.New("bid already cancelled")
	// ErrChainUnavailable indicates the chain couldn't answer in time. It's
	// transient and distinct from a definitive negative answer.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrChainReverted indicates the chain answered and refused the call.
	// It's definitive and never retried.
	ErrChainReverted = errors.New("chain call reverted")
)

// BidParams are the fields a bidder signs. They're immutable once signed.
// Numeric fields are kept in their textual form since the item id is derived
// from the exact strings the bidder provided.
type BidParams struct {
	Account         string `json:"account"`
	Nonce           string `json:"bidNonce"`
	BidAmount       string `json:"bidAmount"`
	MinimumBid      string `json:"minimumBid"`
	ContractAddress string `json:"contractAddress,omitempty"`
	TokenID         string `json:"tokenId"`
	PaymentToken    string `json:"bidToken,omitempty"`
	StartBlock      string `json:"startBlock"`
	ExpireBlock     string `json:"expireBlock"`
}

// Bid is a verified and stored bid. A Bid with a CancelDate greater than
// zero is cancelled, and never exposes its SignedMessage to readers.
type Bid struct {
	BidParams
	ItemID        string `json:"itemId"`
	SignedMessage string `json:"signedMessage,omitempty"`
	// Date is the placement time in epoch milliseconds.
	Date    int64  `json:"date"`
	Version string `json:"version"`
	// CancelDate is the cancellation time in epoch milliseconds, zero if active.
	CancelDate int64 `json:"cancelDate,omitempty"`
}

// Cancelled returns true if the bid was cancelled.
func (b Bid) Cancelled() bool {
	return b.CancelDate >= 1
}

// StatusFilter restricts queries by cancellation status.
type StatusFilter int

const (
	// StatusAll matches every bid.
	StatusAll StatusFilter = iota
	// StatusActive matches bids not cancelled.
	StatusActive
	// StatusCancelled matches cancelled bids.
	StatusCancelled
)

// String returns a string-encoded status filter.
func (f StatusFilter) String() string {
	switch f {
	case StatusAll:
		return "all"
	case StatusActive:
		return "active"
	case StatusCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// Matches returns true if the bid satisfies the filter.
func (f StatusFilter) Matches(b Bid) bool {
	switch f {
	case StatusActive:
		return !b.Cancelled()
	case StatusCancelled:
		return b.Cancelled()
	default:
		return true
	}
}

// ParseStatusFilter parses a textual status filter. An empty string means StatusAll.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch s {
	case "", "all":
		return StatusAll, nil
	case "active":
		return StatusActive, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return StatusAll, errors.New("unknown status filter " + s)
	}
}

// Store persists bids. Implementations must apply record normalization and
// redaction on every read.
type Store interface {
	// Insert stores a new bid. It returns ErrBidExists if the signature or
	// the (account, nonce) pair is already used.
	Insert(ctx context.Context, b Bid) error
	// ListByItemIDs returns bids for any of the provided item ids.
	ListByItemIDs(ctx context.Context, itemIDs []string, filter StatusFilter) ([]Bid, error)
	// ListByAccount returns bids placed by an account.
	ListByAccount(ctx context.Context, account string, filter StatusFilter) ([]Bid, error)
	// GetBySignature returns the bid with the provided signed message, or
	// ErrNotFound.
	GetBySignature(ctx context.Context, signedMessage string) (Bid, error)
	// Cancel atomically sets the cancel date of an active bid. It returns
	// ErrAlreadyCancelled if the bid was cancelled before, and ErrNotFound
	// if the bid doesn't exist.
	Cancel(ctx context.Context, signedMessage string, cancelDate int64) error
}

// ContractEncoder produces canonical bid payloads by asking the ledger
// contract to pack them, so they always match what the contract verifies.
type ContractEncoder interface {
	// EncodeBid returns the payload of a bid naming an NFT contract.
	EncodeBid(
		ctx context.Context,
		nonce, bidAmount *big.Int,
		nftAddress common.Address,
		tokenID, minimumBid, startBlock, expireBlock *big.Int) ([]byte, error)
	// EncodeBidV2 returns the payload of a bid naming a payment token.
	EncodeBidV2(
		ctx context.Context,
		nonce, bidAmount, tokenID, minimumBid, startBlock, expireBlock *big.Int,
		bidToken common.Address) ([]byte, error)
}

// ChainOracle provides read-only access to chain state. Every method may
// fail with an error wrapping ErrChainUnavailable, or ErrChainReverted if the
// ledger refused the call.
type ChainOracle interface {
	ContractEncoder

	// BlockHeight returns the current block number.
	BlockHeight(ctx context.Context) (uint64, error)
	// Balance returns the ERC20 balance of account in token.
	Balance(ctx context.Context, token, account common.Address) (*big.Int, error)
	// PaymentToken returns the token bids for tokenID must be paid with.
	PaymentToken(ctx context.Context, tokenID *big.Int) (common.Address, error)
	// IsNonceConsumed returns true if the ledger already settled or
	// cancelled the nonce for account.
	IsNonceConsumed(ctx context.Context, account common.Address, nonce *big.Int) (bool, error)
	// RecoverSigner returns the address that signed payload following the
	// Ethereum signed message scheme.
	RecoverSigner(ctx context.Context, payload, signature []byte) (common.Address, error)
}
