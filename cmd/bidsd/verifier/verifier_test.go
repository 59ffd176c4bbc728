package verifier

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
	"github.com/zer0-os/bids-core/cmd/bidsd/chainclient/fakechain"
)

var (
	defaultToken = common.HexToAddress("0x2a3bFF78B79A009976EeA096a51A948a3dC00e34")
	otherToken   = common.HexToAddress("0x8D7B7E32F16d3b8F1c0c17d0FAbAc4dDc4A87D5d")
	nftContract  = "0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D"
)

func TestVerifyPasses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	verdict, err := f.verify(t, f.params())
	require.NoError(t, err)
	require.True(t, verdict.Pass)
	require.Equal(t, 200, verdict.Status)
	require.Equal(t, bids.ReasonNone, verdict.Reason)

	t.Run("on window bounds", func(t *testing.T) {
		p := f.params()
		p.StartBlock = "150"
		verdict, err := f.verify(t, p)
		require.NoError(t, err)
		require.True(t, verdict.Pass)

		p = f.params()
		p.ExpireBlock = "150"
		verdict, err = f.verify(t, p)
		require.NoError(t, err)
		require.True(t, verdict.Pass)
	})

	t.Run("balance equal to amount", func(t *testing.T) {
		p := f.params()
		p.BidAmount = "1000"
		verdict, err := f.verify(t, p)
		require.NoError(t, err)
		require.True(t, verdict.Pass)
	})
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	t.Run("insufficient balance", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.chain.SetBalance(defaultToken, f.account, big.NewInt(100))
		p := f.params()
		p.BidAmount = "150"
		f.requireRejected(t, p, bids.ReasonInsufficientBalance)
	})

	t.Run("auction not started", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.chain.SetHeight(50)
		p := f.params()
		p.StartBlock = "100"
		f.requireRejected(t, p, bids.ReasonAuctionNotStarted)
	})

	t.Run("auction expired", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.chain.SetHeight(200)
		p := f.params()
		p.StartBlock = "10"
		p.ExpireBlock = "100"
		f.requireRejected(t, p, bids.ReasonAuctionExpired)
	})

	t.Run("nonce replayed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.chain.Consume(f.account, big.NewInt(42))
		f.requireRejected(t, f.params(), bids.ReasonNonceReplayed)
	})

	t.Run("wrong payment token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		p := f.params()
		p.ContractAddress = ""
		p.PaymentToken = otherToken.Hex()
		f.chain.SetBalance(otherToken, f.account, big.NewInt(1000))
		f.requireRejected(t, p, bids.ReasonWrongPaymentToken)
	})
}

func TestVerifyPaymentTokenVariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.chain.SetPaymentToken(big.NewInt(1), otherToken)

	p := f.params()
	p.ContractAddress = ""
	p.PaymentToken = otherToken.Hex()

	// The bidder only holds the default token.
	f.requireRejected(t, p, bids.ReasonInsufficientBalance)

	f.chain.SetBalance(otherToken, f.account, big.NewInt(5000))
	verdict, err := f.verify(t, p)
	require.NoError(t, err)
	require.True(t, verdict.Pass)
	require.Equal(t, 0, f.chain.Calls("createBid"))
	// Signing and verifying encode the payload once each.
	require.Equal(t, 4, f.chain.Calls("createBidV2"))
}

func TestSignatureMismatchDominates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.chain.SetHeight(5000)
	f.chain.Consume(f.account, big.NewInt(42))
	f.chain.SetBalance(defaultToken, f.account, big.NewInt(1))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	p := f.params()
	payload, err := codec.EncodeParams(context.Background(), f.chain, p)
	require.NoError(t, err)
	sig, err := fakechain.Sign(other, payload)
	require.NoError(t, err)

	verdict, err := f.v.Verify(context.Background(), p, sig)
	require.NoError(t, err)
	require.False(t, verdict.Pass)
	require.Equal(t, bids.ReasonSignatureMismatch, verdict.Reason)
	require.Equal(t, 405, verdict.Status)

	// Every read is done even though the signature alone rejects the bid.
	require.Equal(t, 1, f.chain.Calls("blockNumber"))
	require.Equal(t, 1, f.chain.Calls("balanceOf"))
	require.Equal(t, 1, f.chain.Calls("consumed"))
	require.Equal(t, 1, f.chain.Calls("getPaymentTokenForDomain"))
}

func TestSignatureOverOtherFields(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	p := f.params()
	sig := f.sign(t, p)
	p.BidAmount = "999"
	verdict, err := f.v.Verify(context.Background(), p, sig)
	require.NoError(t, err)
	require.Equal(t, bids.ReasonSignatureMismatch, verdict.Reason)
}

func TestVerifyMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]func(p *bids.BidParams) string{
		"no contract nor token": func(p *bids.BidParams) string {
			p.ContractAddress = ""
			return "0x00"
		},
		"bad amount": func(p *bids.BidParams) string {
			p.BidAmount = "lots"
			return "0x00"
		},
		"bad signature": func(p *bids.BidParams) string {
			return "0xnotasignature"
		},
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			p := f.params()
			sig := mutate(&p)

			verdict, err := f.v.Verify(context.Background(), p, sig)
			require.NoError(t, err)
			require.False(t, verdict.Pass)
			require.Equal(t, bids.ReasonMalformedBid, verdict.Reason)
			require.Equal(t, 400, verdict.Status)
			require.Zero(t, f.chain.TotalCalls())
		})
	}
}

func TestVerifyChainUnavailable(t *testing.T) {
	t.Parallel()

	for _, method := range []string{"blockNumber", "balanceOf", "consumed", "getPaymentTokenForDomain", "createBid"} {
		method := method
		t.Run(method, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			p := f.params()
			sig := f.sign(t, p)
			f.chain.SetUnavailable(method, true)

			_, err := f.v.Verify(context.Background(), p, sig)
			require.ErrorIs(t, err, bids.ErrChainUnavailable)
		})
	}
}

func TestVerifyReverted(t *testing.T) {
	t.Parallel()

	for _, method := range []string{"createBid", "balanceOf", "getPaymentTokenForDomain", "consumed"} {
		method := method
		t.Run(method, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			p := f.params()
			sig := f.sign(t, p)
			f.chain.SetReverted(method, true)

			verdict, err := f.v.Verify(context.Background(), p, sig)
			require.NoError(t, err)
			require.False(t, verdict.Pass)
			require.Equal(t, bids.ReasonMalformedBid, verdict.Reason)
			require.Equal(t, 400, verdict.Status)
		})
	}

	t.Run("wrong payment token dominates", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		p := f.params()
		p.ContractAddress = ""
		p.PaymentToken = otherToken.Hex()
		sig := f.sign(t, p)
		f.chain.SetReverted("balanceOf", true)

		verdict, err := f.v.Verify(context.Background(), p, sig)
		require.NoError(t, err)
		require.Equal(t, bids.ReasonWrongPaymentToken, verdict.Reason)
	})
}

type fixture struct {
	chain   *fakechain.FakeChain
	v       *Verifier
	key     *ecdsa.PrivateKey
	account common.Address
}

// newFixture returns a chain at block 150 where the bidder holds 1000 of the
// default token.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	chain := fakechain.New(defaultToken)
	account := crypto.PubkeyToAddress(key.PublicKey)
	chain.SetHeight(150)
	chain.SetBalance(defaultToken, account, big.NewInt(1000))

	v, err := New(chain)
	require.NoError(t, err)
	return &fixture{chain: chain, v: v, key: key, account: account}
}

func (f *fixture) params() bids.BidParams {
	return bids.BidParams{
		Account:         fakechain.Address(f.key),
		Nonce:           "42",
		BidAmount:       "500",
		MinimumBid:      "100",
		ContractAddress: nftContract,
		TokenID:         "0x1",
		StartBlock:      "100",
		ExpireBlock:     "200",
	}
}

func (f *fixture) sign(t *testing.T, p bids.BidParams) string {
	t.Helper()
	payload, err := codec.EncodeParams(context.Background(), f.chain, p)
	require.NoError(t, err)
	sig, err := fakechain.Sign(f.key, payload)
	require.NoError(t, err)
	return sig
}

func (f *fixture) verify(t *testing.T, p bids.BidParams) (bids.Verdict, error) {
	t.Helper()
	return f.v.Verify(context.Background(), p, f.sign(t, p))
}

func (f *fixture) requireRejected(t *testing.T, p bids.BidParams, reason bids.Reason) {
	t.Helper()
	verdict, err := f.verify(t, p)
	require.NoError(t, err)
	require.False(t, verdict.Pass)
	require.Equal(t, reason, verdict.Reason)
	require.Equal(t, reason.Status(), verdict.Status)
	require.NotEmpty(t, verdict.Message)
}
