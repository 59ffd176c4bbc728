package db

import (
	"context"
)

const selectBids = `SELECT signed_message, item_id, account, bid_nonce, auction_id, bid_amount, minimum_bid, contract_address, token_id, bid_token, start_block, expire_block, date, version, cancel_date FROM bids`

// ListBidsWhere returns bids matching a where clause built at runtime. It
// lives outside of generated code since sqlc only supports static queries.
func (q *Queries) ListBidsWhere(ctx context.Context, where string, args ...interface{}) ([]Bid, error) {
	query := selectBids
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY date DESC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Bid{}
	for rows.Next() {
		var i Bid
		if err := rows.Scan(
			&i.SignedMessage,
			&i.ItemID,
			&i.Account,
			&i.BidNonce,
			&i.AuctionID,
			&i.BidAmount,
			&i.MinimumBid,
			&i.ContractAddress,
			&i.TokenID,
			&i.BidToken,
			&i.StartBlock,
			&i.ExpireBlock,
			&i.Date,
			&i.Version,
			&i.CancelDate,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
