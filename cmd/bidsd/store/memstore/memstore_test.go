package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/record"
)

func TestStore(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	older := testBid("1", "0xsig-1", 1000)
	newer := testBid("2", "0xsig-2", 2000)
	require.NoError(t, s.Insert(ctx, older))
	require.NoError(t, s.Insert(ctx, newer))

	dup := testBid("1", "0xsig-3", 3000)
	dup.Account = "0xABCDEF0000000000000000000000000000000001"
	require.ErrorIs(t, s.Insert(ctx, dup), bids.ErrBidExists)
	require.ErrorIs(t, s.Insert(ctx, older), bids.ErrBidExists)

	all, err := s.ListByItemIDs(ctx, []string{"0xitem"}, bids.StatusAll)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "2", all[0].Nonce)

	require.NoError(t, s.Cancel(ctx, older.SignedMessage, 5000))
	require.ErrorIs(t, s.Cancel(ctx, older.SignedMessage, 6000), bids.ErrAlreadyCancelled)
	require.ErrorIs(t, s.Cancel(ctx, "0xmissing", 6000), bids.ErrNotFound)

	cancelled, err := s.ListByAccount(ctx, "0xabcdef0000000000000000000000000000000001", bids.StatusCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, int64(5000), cancelled[0].CancelDate)
	require.Empty(t, cancelled[0].SignedMessage)

	got, err := s.GetBySignature(ctx, older.SignedMessage)
	require.NoError(t, err)
	require.Empty(t, got.SignedMessage)

	active, err := s.ListByItemIDs(ctx, []string{"0xitem"}, bids.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, newer.SignedMessage, active[0].SignedMessage)
}

func TestLegacyRecord(t *testing.T) {
	t.Parallel()
	s := New()

	auctionID := "9"
	nftID := "0xitem"
	require.NoError(t, s.InsertRecord(record.StoredBid{
		Account:       "0xABCDEF0000000000000000000000000000000001",
		SignedMessage: "0xlegacy",
		AuctionID:     &auctionID,
		NftID:         &nftID,
		BidAmount:     "1",
		TokenID:       "0x1",
	}))

	got, err := s.GetBySignature(context.Background(), "0xlegacy")
	require.NoError(t, err)
	require.Equal(t, bids.VersionLegacy, got.Version)
	require.Equal(t, "9", got.Nonce)
	require.Equal(t, "0xitem", got.ItemID)
}

func TestIncompleteRecordIsSkipped(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, testBid("1", "0xsig-1", 1000)))
	require.NoError(t, s.InsertRecord(record.StoredBid{
		Account:       "0xabcdef0000000000000000000000000000000001",
		SignedMessage: "0xno-nonce",
		BidAmount:     "1",
		TokenID:       "0x1",
		Date:          2000,
	}))

	list, err := s.ListByAccount(ctx, "0xabcdef0000000000000000000000000000000001", bids.StatusAll)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "0xsig-1", list[0].SignedMessage)

	_, err = s.GetBySignature(ctx, "0xno-nonce")
	require.ErrorIs(t, err, record.ErrIncompleteRecord)
}

func testBid(nonce, sig string, date int64) bids.Bid {
	return bids.Bid{
		BidParams: bids.BidParams{
			Account:         "0xabcdef0000000000000000000000000000000001",
			Nonce:           nonce,
			BidAmount:       "100",
			MinimumBid:      "1",
			ContractAddress: "0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D",
			TokenID:         "0x1",
			StartBlock:      "1",
			ExpireBlock:     "10",
		},
		ItemID:        "0xitem",
		SignedMessage: sig,
		Date:          date,
		Version:       bids.VersionCurrent,
	}
}
