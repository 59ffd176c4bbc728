// Package record decodes every historical bid record shape into bids.Bid.
//
// Three shapes were persisted over time:
//   - 1.0: no version, nonce stored as auctionId, item id sometimes as nftId.
//   - 2.0: version and bidNonce fields, NFT contract address.
//   - 2.0 with bidToken: the payment token replaces the contract address.
package record

import (
	"errors"
	"fmt"

	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
)

// ErrIncompleteRecord indicates a stored record lacks a required field.
var ErrIncompleteRecord = errors.New("incomplete bid record")

// StoredBid is a persisted bid in any of its historical shapes.
type StoredBid struct {
	Account         string  `json:"account"`
	SignedMessage   string  `json:"signedMessage"`
	BidNonce        *string `json:"bidNonce,omitempty"`
	AuctionID       *string `json:"auctionId,omitempty"`
	BidAmount       string  `json:"bidAmount"`
	MinimumBid      string  `json:"minimumBid"`
	ContractAddress *string `json:"contractAddress,omitempty"`
	TokenID         string  `json:"tokenId"`
	BidToken        *string `json:"bidToken,omitempty"`
	StartBlock      string  `json:"startBlock"`
	ExpireBlock     string  `json:"expireBlock"`
	Date            int64   `json:"date"`
	Version         *string `json:"version,omitempty"`
	CancelDate      *int64  `json:"cancelDate,omitempty"`
	ItemID          *string `json:"itemId,omitempty"`
	NftID           *string `json:"nftId,omitempty"`
}

// LegacyAuction is the per-item document bids were kept in before they had
// their own records.
type LegacyAuction struct {
	TokenID         string      `json:"tokenId"`
	ContractAddress string      `json:"contractAddress"`
	Bids            []StoredBid `json:"bids"`
}

// StoredBids returns the auction bids with the item fields filled in.
func (a LegacyAuction) StoredBids() []StoredBid {
	res := make([]StoredBid, 0, len(a.Bids))
	for _, sb := range a.Bids {
		if sb.TokenID == "" {
			sb.TokenID = a.TokenID
		}
		if sb.ContractAddress == nil && a.ContractAddress != "" {
			sb.ContractAddress = strPtr(a.ContractAddress)
		}
		res = append(res, sb)
	}
	return res
}

// Normalize decodes a stored record into the canonical bid.
func Normalize(sb StoredBid) (bids.Bid, error) {
	if sb.Account == "" {
		return bids.Bid{}, fmt.Errorf("%w: account is empty", ErrIncompleteRecord)
	}

	b := bids.Bid{
		BidParams: bids.BidParams{
			Account:         sb.Account,
			Nonce:           firstOf(sb.BidNonce, sb.AuctionID),
			BidAmount:       sb.BidAmount,
			MinimumBid:      sb.MinimumBid,
			ContractAddress: deref(sb.ContractAddress),
			TokenID:         sb.TokenID,
			PaymentToken:    deref(sb.BidToken),
			StartBlock:      sb.StartBlock,
			ExpireBlock:     sb.ExpireBlock,
		},
		SignedMessage: sb.SignedMessage,
		Date:          sb.Date,
		Version:       firstOf(sb.Version),
		ItemID:        firstOf(sb.ItemID, sb.NftID),
	}
	if b.Version == "" {
		b.Version = bids.VersionLegacy
	}
	if b.Nonce == "" {
		return bids.Bid{}, fmt.Errorf("%w: bid %s has no nonce", ErrIncompleteRecord, shorten(sb.SignedMessage))
	}
	if b.ItemID == "" {
		if b.ContractAddress == "" {
			return bids.Bid{}, fmt.Errorf("%w: bid %s has no item id", ErrIncompleteRecord, shorten(sb.SignedMessage))
		}
		b.ItemID = codec.ComputeItemID(b.ContractAddress, b.TokenID)
	}
	if sb.CancelDate != nil && *sb.CancelDate > 0 {
		b.CancelDate = *sb.CancelDate
	}

	return b, nil
}

// Redact strips the signed message of cancelled bids.
func Redact(b bids.Bid) bids.Bid {
	if b.Cancelled() {
		b.SignedMessage = ""
	}
	return b
}

// Read normalizes and redacts a stored record. Every path returning bids to
// readers goes through Read.
func Read(sb StoredBid) (bids.Bid, error) {
	b, err := Normalize(sb)
	if err != nil {
		return bids.Bid{}, err
	}
	return Redact(b), nil
}

// FromBid encodes a canonical bid in the current record shape.
func FromBid(b bids.Bid) StoredBid {
	version := b.Version
	if version == "" {
		version = bids.VersionCurrent
	}
	sb := StoredBid{
		Account:         b.Account,
		SignedMessage:   b.SignedMessage,
		BidNonce:        strPtr(b.Nonce),
		BidAmount:       b.BidAmount,
		MinimumBid:      b.MinimumBid,
		ContractAddress: optional(b.ContractAddress),
		TokenID:         b.TokenID,
		BidToken:        optional(b.PaymentToken),
		StartBlock:      b.StartBlock,
		ExpireBlock:     b.ExpireBlock,
		Date:            b.Date,
		Version:         strPtr(version),
		ItemID:          optional(b.ItemID),
	}
	if b.CancelDate > 0 {
		cd := b.CancelDate
		sb.CancelDate = &cd
	}
	return sb
}

func firstOf(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string {
	return &s
}

func shorten(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
