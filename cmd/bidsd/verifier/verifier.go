// Package verifier decides whether a signed bid is admissible given the
// current chain state.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	golog "github.com/ipfs/go-log/v2"
	"github.com/sourcegraph/conc/pool"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
)

var log = golog.Logger("bidsd/verifier")

// Verifier checks bids against the chain. It has no side effects.
type Verifier struct {
	chain bids.ChainOracle
}

// New returns a new Verifier.
func New(chain bids.ChainOracle) (*Verifier, error) {
	if chain == nil {
		return nil, errors.New("chain oracle is nil")
	}
	return &Verifier{chain: chain}, nil
}

// chainState is what the chain says about a bid.
type chainState struct {
	paymentToken common.Address
	signer       common.Address
	recoverErr   error
	balance      *big.Int
	height       uint64
	consumed     bool
	// reverted is set when the ledger refused a read for this bid.
	reverted error
	// tokenKnown is false when the payment token lookup reverted.
	tokenKnown bool
}

// Verify checks a bid. Rejections are returned as a failing verdict. An
// error is returned only if the chain couldn't be read, and it wraps
// bids.ErrChainUnavailable in that case. A read the ledger reverts is a
// rejection of the bid, not an error.
//
// Every chain read is done concurrently and awaited, and the reported reason
// follows a fixed precedence: WrongPaymentToken, SignatureMismatch,
// InsufficientBalance, AuctionNotStarted, AuctionExpired, NonceReplayed.
func (v *Verifier) Verify(ctx context.Context, p bids.BidParams, signedMessage string) (bids.Verdict, error) {
	a, err := codec.Parse(p)
	if err != nil {
		return bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}
	sig, err := codec.DecodeSignature(signedMessage)
	if err != nil {
		return bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}
	if sig, err = codec.CanonicalSignature(sig); err != nil {
		return bids.Rejected(bids.ReasonMalformedBid, err.Error()), nil
	}

	st, err := v.readChain(ctx, a, sig)
	if err != nil {
		return bids.Verdict{}, err
	}

	verdict := decide(a, st)
	if !verdict.Pass {
		log.Debugf("bid %s of %s rejected: %s", p.Nonce, p.Account, verdict.Message)
	}
	return verdict, nil
}

func (v *Verifier) readChain(ctx context.Context, a codec.Args, sig []byte) (chainState, error) {
	var (
		st   chainState
		lock sync.Mutex
	)
	// revert records a reverted read and swallows it.
	revert := func(what string, err error) error {
		if !errors.Is(err, bids.ErrChainReverted) {
			return fmt.Errorf("%s: %w", what, err)
		}
		lock.Lock()
		defer lock.Unlock()
		if st.reverted == nil {
			st.reverted = fmt.Errorf("%s: %w", what, err)
		}
		return nil
	}

	p := pool.New().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		token, err := v.chain.PaymentToken(ctx, a.TokenID)
		if err != nil {
			return revert("resolving payment token", err)
		}
		lock.Lock()
		st.paymentToken = token
		st.tokenKnown = true
		lock.Unlock()

		// The bidder must hold the token named in the bid, or the one the
		// item is sold for if the bid doesn't name any.
		if a.Variant == codec.VariantToken {
			token = a.PaymentToken
		}
		balance, err := v.chain.Balance(ctx, token, a.Account)
		if err != nil {
			return revert("getting balance", err)
		}
		lock.Lock()
		st.balance = balance
		lock.Unlock()
		return nil
	})
	p.Go(func(ctx context.Context) error {
		payload, err := codec.Encode(ctx, v.chain, a)
		if err != nil {
			return revert("encoding bid", err)
		}
		signer, recoverErr := v.chain.RecoverSigner(ctx, payload, sig)
		if errors.Is(recoverErr, bids.ErrChainUnavailable) {
			return fmt.Errorf("recovering signer: %w", recoverErr)
		}
		lock.Lock()
		st.signer, st.recoverErr = signer, recoverErr
		lock.Unlock()
		return nil
	})
	p.Go(func(ctx context.Context) error {
		height, err := v.chain.BlockHeight(ctx)
		if err != nil {
			return revert("getting block height", err)
		}
		lock.Lock()
		st.height = height
		lock.Unlock()
		return nil
	})
	p.Go(func(ctx context.Context) error {
		consumed, err := v.chain.IsNonceConsumed(ctx, a.Account, a.Nonce)
		if err != nil {
			return revert("getting nonce state", err)
		}
		lock.Lock()
		st.consumed = consumed
		lock.Unlock()
		return nil
	})
	if err := p.Wait(); err != nil {
		return chainState{}, fmt.Errorf("reading chain state: %w", err)
	}
	return st, nil
}

func decide(a codec.Args, st chainState) bids.Verdict {
	if a.Variant == codec.VariantToken && st.tokenKnown && st.paymentToken != a.PaymentToken {
		return bids.Rejected(bids.ReasonWrongPaymentToken,
			fmt.Sprintf("item is paid with %s, bid names %s", st.paymentToken, a.PaymentToken))
	}
	if st.reverted != nil {
		return bids.Rejected(bids.ReasonMalformedBid,
			fmt.Sprintf("ledger rejected the bid: %s", st.reverted))
	}
	if st.recoverErr != nil {
		return bids.Rejected(bids.ReasonSignatureMismatch,
			fmt.Sprintf("recovering signer: %s", st.recoverErr))
	}
	if st.signer != a.Account {
		return bids.Rejected(bids.ReasonSignatureMismatch,
			fmt.Sprintf("bid was signed by %s, not by %s", st.signer, a.Account))
	}
	if st.balance.Cmp(a.BidAmount) < 0 {
		return bids.Rejected(bids.ReasonInsufficientBalance,
			fmt.Sprintf("balance %s is lower than bid amount %s", st.balance, a.BidAmount))
	}
	height := new(big.Int).SetUint64(st.height)
	if height.Cmp(a.StartBlock) < 0 {
		return bids.Rejected(bids.ReasonAuctionNotStarted,
			fmt.Sprintf("current block %d is before start block %s", st.height, a.StartBlock))
	}
	if height.Cmp(a.ExpireBlock) > 0 {
		return bids.Rejected(bids.ReasonAuctionExpired,
			fmt.Sprintf("current block %d is after expire block %s", st.height, a.ExpireBlock))
	}
	if st.consumed {
		return bids.Rejected(bids.ReasonNonceReplayed,
			fmt.Sprintf("nonce %s of %s was already consumed", a.Nonce, a.Account))
	}
	return bids.Passed()
}
