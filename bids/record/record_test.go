package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
)

const (
	v1Record = `{
		"account": "0x35888AD3f1C0b39244Bb54746B96Ee84A5d97a53",
		"signedMessage": "0xsig1",
		"auctionId": "1234",
		"bidAmount": "1000",
		"minimumBid": "0",
		"contractAddress": "0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D",
		"tokenId": "0x1",
		"startBlock": "0",
		"expireBlock": "999999999",
		"date": 1620000000000
	}`
	v2Record = `{
		"account": "0x35888AD3f1C0b39244Bb54746B96Ee84A5d97a53",
		"signedMessage": "0xsig2",
		"bidNonce": "5678",
		"bidAmount": "1000",
		"minimumBid": "10",
		"contractAddress": "0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D",
		"tokenId": "0x1",
		"startBlock": "10",
		"expireBlock": "20",
		"date": 1640000000000,
		"version": "2.0",
		"cancelDate": 0
	}`
	v21Record = `{
		"account": "0x35888AD3f1C0b39244Bb54746B96Ee84A5d97a53",
		"signedMessage": "0xsig3",
		"bidNonce": "9",
		"bidAmount": "1000",
		"minimumBid": "10",
		"tokenId": "0x1",
		"bidToken": "0x2a3bFF78B79A009976EeA096a51A948a3dC00e34",
		"itemId": "0xitem",
		"startBlock": "10",
		"expireBlock": "20",
		"date": 1660000000000,
		"version": "2.0",
		"cancelDate": 1660000005000
	}`
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("legacy", func(t *testing.T) {
		t.Parallel()
		b, err := Normalize(decode(t, v1Record))
		require.NoError(t, err)
		require.Equal(t, bids.VersionLegacy, b.Version)
		require.Equal(t, "1234", b.Nonce)
		require.Equal(t, codec.ComputeItemID(b.ContractAddress, "0x1"), b.ItemID)
		require.False(t, b.Cancelled())
		require.Equal(t, "0xsig1", b.SignedMessage)
	})

	t.Run("current", func(t *testing.T) {
		t.Parallel()
		b, err := Normalize(decode(t, v2Record))
		require.NoError(t, err)
		require.Equal(t, bids.VersionCurrent, b.Version)
		require.Equal(t, "5678", b.Nonce)
		require.Zero(t, b.CancelDate)
		require.Empty(t, b.PaymentToken)
	})

	t.Run("payment token", func(t *testing.T) {
		t.Parallel()
		b, err := Normalize(decode(t, v21Record))
		require.NoError(t, err)
		require.Equal(t, "0x2a3bFF78B79A009976EeA096a51A948a3dC00e34", b.PaymentToken)
		require.Equal(t, "0xitem", b.ItemID)
		require.Empty(t, b.ContractAddress)
		require.True(t, b.Cancelled())
		// Normalize alone doesn't redact.
		require.Equal(t, "0xsig3", b.SignedMessage)
	})

	t.Run("nonce field precedence", func(t *testing.T) {
		t.Parallel()
		sb := decode(t, v1Record)
		sb.BidNonce = strPtr("1")
		b, err := Normalize(sb)
		require.NoError(t, err)
		require.Equal(t, "1", b.Nonce)
	})

	t.Run("legacy item id field", func(t *testing.T) {
		t.Parallel()
		sb := decode(t, v1Record)
		sb.NftID = strPtr("0xnft")
		b, err := Normalize(sb)
		require.NoError(t, err)
		require.Equal(t, "0xnft", b.ItemID)
	})

	t.Run("incomplete", func(t *testing.T) {
		t.Parallel()
		sb := decode(t, v1Record)
		sb.AuctionID = nil
		_, err := Normalize(sb)
		require.ErrorIs(t, err, ErrIncompleteRecord)

		sb = decode(t, v21Record)
		sb.ItemID = nil
		_, err = Normalize(sb)
		require.ErrorIs(t, err, ErrIncompleteRecord)
	})
}

func TestRead(t *testing.T) {
	t.Parallel()

	b, err := Read(decode(t, v21Record))
	require.NoError(t, err)
	require.Empty(t, b.SignedMessage)
	require.Equal(t, int64(1660000005000), b.CancelDate)

	b, err = Read(decode(t, v2Record))
	require.NoError(t, err)
	require.Equal(t, "0xsig2", b.SignedMessage)
}

func TestFromBid(t *testing.T) {
	t.Parallel()

	b, err := Normalize(decode(t, v1Record))
	require.NoError(t, err)
	b.Version = ""
	b.CancelDate = 1700000000000

	sb := FromBid(b)
	require.Equal(t, "1234", *sb.BidNonce)
	require.Nil(t, sb.AuctionID)
	require.Equal(t, bids.VersionCurrent, *sb.Version)
	require.Nil(t, sb.BidToken)
	require.Equal(t, int64(1700000000000), *sb.CancelDate)

	back, err := Normalize(sb)
	require.NoError(t, err)
	require.Equal(t, b.ItemID, back.ItemID)
	require.Equal(t, b.Nonce, back.Nonce)
}

func TestLegacyAuction(t *testing.T) {
	t.Parallel()

	doc := `{
		"tokenId": "0x7",
		"contractAddress": "0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D",
		"bids": [
			{"account": "0x35888AD3f1C0b39244Bb54746B96Ee84A5d97a53", "signedMessage": "0xa",
			 "auctionId": "1", "bidAmount": "5", "minimumBid": "0", "startBlock": "0",
			 "expireBlock": "10", "date": 1}
		]
	}`
	var a LegacyAuction
	require.NoError(t, json.Unmarshal([]byte(doc), &a))

	sbs := a.StoredBids()
	require.Len(t, sbs, 1)
	b, err := Read(sbs[0])
	require.NoError(t, err)
	require.Equal(t, "0x7", b.TokenID)
	require.Equal(t, codec.ComputeItemID("0xC2e9678A71e50E5AEd036e00e9c5caeb1aC5987D", "0x7"), b.ItemID)
	require.Equal(t, bids.VersionLegacy, b.Version)
}

func decode(t *testing.T, raw string) StoredBid {
	var sb StoredBid
	require.NoError(t, json.Unmarshal([]byte(raw), &sb))
	return sb
}
