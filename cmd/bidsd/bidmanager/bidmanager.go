// Package bidmanager drives bids through their lifecycle: verified bids are
// stored as active, and active bids can be cancelled by their bidder.
package bidmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
	"github.com/zer0-os/bids-core/bids/record"
)

var log = golog.Logger("bidsd/bidmanager")

// Verifier checks bids against the chain.
type Verifier interface {
	Verify(ctx context.Context, p bids.BidParams, signedMessage string) (bids.Verdict, error)
}

// Notifier announces lifecycle transitions. Calls must not block.
type Notifier interface {
	BidPlaced(bids.Bid)
	BidCancelled(bids.Bid)
}

// EncodedBid is the payload a bidder has to sign to place a bid.
type EncodedBid struct {
	Payload string `json:"payload"`
	Nonce   string `json:"bidNonce"`
	ItemID  string `json:"itemId"`
}

// BidManager places and cancels bids.
type BidManager struct {
	store    bids.Store
	chain    bids.ChainOracle
	verifier Verifier
	notifier Notifier
	conf     config

	metrics metricsCollector
}

// New returns a new BidManager.
func New(
	store bids.Store,
	chain bids.ChainOracle,
	verifier Verifier,
	notifier Notifier,
	opts ...Option) (*BidManager, error) {
	if store == nil || chain == nil || verifier == nil || notifier == nil {
		return nil, errors.New("store, chain, verifier and notifier are required")
	}
	cfg := defaultConfig
	for _, op := range opts {
		if err := op(&cfg); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	bm := &BidManager{
		store:    store,
		chain:    chain,
		verifier: verifier,
		notifier: notifier,
		conf:     cfg,
		metrics:  noopMetricsCollector{},
	}
	bm.initMetrics()

	return bm, nil
}

// EncodeBid returns the payload to sign for p. A random nonce is chosen if p
// doesn't carry one.
func (bm *BidManager) EncodeBid(ctx context.Context, p bids.BidParams) (EncodedBid, bids.Verdict, error) {
	if p.Nonce == "" {
		nonce, err := codec.NewNonce()
		if err != nil {
			return EncodedBid{}, bids.Verdict{}, err
		}
		p.Nonce = nonce.String()
	}
	a, err := codec.Parse(p)
	if err != nil {
		return EncodedBid{}, bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}
	itemID, err := bm.itemID(p)
	if err != nil {
		return EncodedBid{}, bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}
	payload, err := codec.Encode(ctx, bm.chain, a)
	if errors.Is(err, bids.ErrChainReverted) {
		return EncodedBid{}, bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}
	if err != nil {
		return EncodedBid{}, bids.Verdict{}, fmt.Errorf("encoding bid: %w", err)
	}
	return EncodedBid{
		Payload: hexutil.Encode(payload),
		Nonce:   p.Nonce,
		ItemID:  itemID,
	}, bids.Passed(), nil
}

// Verify checks a bid without storing it.
func (bm *BidManager) Verify(ctx context.Context, p bids.BidParams, signedMessage string) (bids.Verdict, error) {
	return bm.verifier.Verify(ctx, p, signedMessage)
}

// PlaceBid verifies and stores a bid. Rejected bids are never stored. The
// BidPlaced event is emitted in the background, and failing to emit it
// doesn't fail the placement.
func (bm *BidManager) PlaceBid(ctx context.Context, p bids.BidParams, signedMessage string) (bids.Bid, bids.Verdict, error) {
	itemID, err := bm.itemID(p)
	if err != nil {
		verdict := bids.Rejected(bids.ReasonMalformedBid, err.Error())
		bm.metrics.onPlaceRejected(ctx, verdict.Reason)
		return bids.Bid{}, verdict, nil
	}
	verdict, err := bm.verifier.Verify(ctx, p, signedMessage)
	if err != nil {
		return bids.Bid{}, bids.Verdict{}, fmt.Errorf("verifying bid: %w", err)
	}
	if !verdict.Pass {
		bm.metrics.onPlaceRejected(ctx, verdict.Reason)
		return bids.Bid{}, verdict, nil
	}

	// Nonce and signature are stored in their canonical text, so the same
	// bid spelled differently hits the uniqueness constraints.
	a, err := codec.Parse(p)
	if err != nil {
		return bids.Bid{}, bids.Verdict{}, fmt.Errorf("parsing verified bid: %s", err)
	}
	sig, err := codec.NormalizeSignature(signedMessage)
	if err != nil {
		return bids.Bid{}, bids.Verdict{}, fmt.Errorf("normalizing verified signature: %s", err)
	}
	p.Nonce = a.Nonce.String()

	b := bids.Bid{
		BidParams:     p,
		ItemID:        itemID,
		SignedMessage: sig,
		Date:          bm.conf.clock().UnixMilli(),
		Version:       bids.VersionCurrent,
	}
	if err := bm.store.Insert(ctx, b); err != nil {
		if errors.Is(err, bids.ErrBidExists) {
			verdict := bids.Rejected(bids.ReasonBidExists,
				fmt.Sprintf("bid %s of %s already exists", p.Nonce, p.Account))
			bm.metrics.onPlaceRejected(ctx, verdict.Reason)
			return bids.Bid{}, verdict, nil
		}
		return bids.Bid{}, bids.Verdict{}, fmt.Errorf("storing bid: %w", err)
	}
	log.Debugf("placed bid %s of %s for item %s", b.Nonce, b.Account, b.ItemID)

	bm.metrics.onPlaced(ctx)
	bm.notifier.BidPlaced(b)
	return b, bids.Passed(), nil
}

// CancelBid cancels the bid with bidSignature. cancelSignature must be the
// bidder's signature of the digest returned by CancelEncode. Cancelling twice
// is rejected with AlreadyCancelled and leaves the cancel date untouched.
func (bm *BidManager) CancelBid(ctx context.Context, bidSignature, cancelSignature string) (bids.Bid, bids.Verdict, error) {
	if bidSignature == "" || cancelSignature == "" {
		return bids.Bid{}, bids.Rejected(bids.ReasonMalformedBid, "bid and cancel signatures are required"), nil
	}
	sig, err := codec.DecodeSignature(cancelSignature)
	if err != nil {
		return bids.Bid{}, bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}

	b, verdict, err := bm.getActive(ctx, bidSignature)
	if err != nil || !verdict.Pass {
		bm.metrics.onCancelRejected(ctx, verdict.Reason)
		return bids.Bid{}, verdict, err
	}

	signer, err := bm.chain.RecoverSigner(ctx, codec.CancelDigest(bidSignature), sig)
	if errors.Is(err, bids.ErrChainUnavailable) {
		return bids.Bid{}, bids.Verdict{}, fmt.Errorf("recovering cancel signer: %w", err)
	}
	if err != nil || !codec.SameAddress(signer.Hex(), b.Account) {
		verdict := bids.Rejected(bids.ReasonWrongSigner,
			fmt.Sprintf("cancellation wasn't signed by %s", b.Account))
		bm.metrics.onCancelRejected(ctx, verdict.Reason)
		return bids.Bid{}, verdict, nil
	}

	cancelDate := bm.conf.clock().UnixMilli()
	if err := bm.store.Cancel(ctx, b.SignedMessage, cancelDate); err != nil {
		verdict, err := cancelVerdict(err)
		bm.metrics.onCancelRejected(ctx, verdict.Reason)
		return bids.Bid{}, verdict, err
	}
	b.CancelDate = cancelDate
	b = record.Redact(b)
	log.Debugf("cancelled bid %s of %s for item %s", b.Nonce, b.Account, b.ItemID)

	bm.metrics.onCancelled(ctx)
	bm.notifier.BidCancelled(b)
	return b, bids.Passed(), nil
}

// CancelEncode returns the hex digest the bidder has to sign to cancel the
// bid with bidSignature. It doesn't change anything.
func (bm *BidManager) CancelEncode(ctx context.Context, bidSignature string) (string, bids.Verdict, error) {
	if bidSignature == "" {
		return "", bids.Rejected(bids.ReasonMalformedBid, "bid signature is required"), nil
	}
	if _, verdict, err := bm.getActive(ctx, bidSignature); err != nil || !verdict.Pass {
		return "", verdict, err
	}
	return hexutil.Encode(codec.CancelDigest(bidSignature)), bids.Passed(), nil
}

// ListByItems returns the bids of any of the items, newest first.
func (bm *BidManager) ListByItems(ctx context.Context, itemIDs []string, f bids.StatusFilter) ([]bids.Bid, error) {
	if len(itemIDs) == 0 {
		return []bids.Bid{}, nil
	}
	res, err := bm.store.ListByItemIDs(ctx, itemIDs, f)
	if err != nil {
		return nil, fmt.Errorf("listing bids by items: %w", err)
	}
	return res, nil
}

// GetByItem returns the bids of one item, newest first.
func (bm *BidManager) GetByItem(ctx context.Context, itemID string, f bids.StatusFilter) ([]bids.Bid, error) {
	return bm.ListByItems(ctx, []string{itemID}, f)
}

// ListByAccount returns the bids placed by account, newest first.
func (bm *BidManager) ListByAccount(ctx context.Context, account string, f bids.StatusFilter) ([]bids.Bid, error) {
	res, err := bm.store.ListByAccount(ctx, account, f)
	if err != nil {
		return nil, fmt.Errorf("listing bids by account: %w", err)
	}
	return res, nil
}

func (bm *BidManager) getActive(ctx context.Context, bidSignature string) (bids.Bid, bids.Verdict, error) {
	key, err := codec.NormalizeSignature(bidSignature)
	if err != nil {
		key = bidSignature
	}
	b, err := bm.store.GetBySignature(ctx, key)
	// Imported records may carry signatures that aren't canonical.
	if errors.Is(err, bids.ErrNotFound) && key != bidSignature {
		b, err = bm.store.GetBySignature(ctx, bidSignature)
	}
	if errors.Is(err, bids.ErrNotFound) {
		return bids.Bid{}, bids.Rejected(bids.ReasonNotFound, "bid not found"), nil
	}
	if err != nil {
		return bids.Bid{}, bids.Verdict{}, fmt.Errorf("getting bid: %w", err)
	}
	if b.Cancelled() {
		return bids.Bid{}, bids.Rejected(bids.ReasonAlreadyCancelled, "bid was already cancelled"), nil
	}
	return b, bids.Passed(), nil
}

// itemID returns the id of the item the bid is for. Bids naming a payment
// token are grouped under the default NFT contract.
func (bm *BidManager) itemID(p bids.BidParams) (string, error) {
	contract := p.ContractAddress
	if contract == "" {
		contract = bm.conf.defaultNFTContract
	}
	if contract == "" {
		return "", errors.New("bid has no contract address and there's no default nft contract")
	}
	return codec.ComputeItemID(contract, p.TokenID), nil
}

// cancelVerdict maps a failed conditional cancel to its verdict. Losing a
// race against a concurrent cancellation yields AlreadyCancelled.
func cancelVerdict(err error) (bids.Verdict, error) {
	switch {
	case errors.Is(err, bids.ErrAlreadyCancelled):
		return bids.Rejected(bids.ReasonAlreadyCancelled, "bid was already cancelled"), nil
	case errors.Is(err, bids.ErrNotFound):
		return bids.Rejected(bids.ReasonNotFound, "bid not found"), nil
	default:
		return bids.Verdict{}, fmt.Errorf("cancelling bid: %w", err)
	}
}
