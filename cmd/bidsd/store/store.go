package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/codec"
	"github.com/zer0-os/bids-core/bids/record"
	"github.com/zer0-os/bids-core/cmd/bidsd/store/internal/db"
	"github.com/zer0-os/bids-core/cmd/bidsd/store/migrations"
	"github.com/zer0-os/bids-core/storeutil"
)

var log = golog.Logger("bidsd/store")

// DefaultTimeout bounds every store call when no other timeout is configured.
const DefaultTimeout = 10 * time.Second

// Duplicate describes a nonce used by more than one bid of an account.
type Duplicate struct {
	Account string
	Nonce   string
	Total   int64
}

// Store provides persistent storage for bids in postgres.
type Store struct {
	conn    *sql.DB
	db      *db.Queries
	timeout time.Duration
}

var _ bids.Store = (*Store)(nil)

// New returns a *Store. Every call is bounded by timeout.
func New(postgresURI string, timeout time.Duration) (*Store, error) {
	conn, err := storeutil.MigrateAndConnectToDB(postgresURI, migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("initializing db connection: %s", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{conn: conn, db: db.New(conn), timeout: timeout}, nil
}

// Insert stores a new bid.
func (s *Store) Insert(ctx context.Context, b bids.Bid) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.InsertBid(ctx, insertParams(record.FromBid(b))); err != nil {
		if storeutil.IsUniqueViolation(err) {
			return bids.ErrBidExists
		}
		return fmt.Errorf("inserting bid: %s", err)
	}
	log.Debugf("stored bid %s of %s for item %s", b.Nonce, b.Account, b.ItemID)
	return nil
}

// ListByItemIDs returns bids for any of the item ids, newest first.
func (s *Store) ListByItemIDs(ctx context.Context, itemIDs []string, f bids.StatusFilter) ([]bids.Bid, error) {
	if len(itemIDs) == 0 {
		return []bids.Bid{}, nil
	}
	return s.list(ctx, WithStatus(ItemIDIn(itemIDs), f))
}

// ListByAccount returns bids of account, newest first.
func (s *Store) ListByAccount(ctx context.Context, account string, f bids.StatusFilter) ([]bids.Bid, error) {
	return s.list(ctx, WithStatus(AccountIs(account), f))
}

// ListAll returns every bid matching the filter.
func (s *Store) ListAll(ctx context.Context, f bids.StatusFilter) ([]bids.Bid, error) {
	return s.list(ctx, StatusIs(f))
}

// GetBySignature returns the bid with the signed message.
func (s *Store) GetBySignature(ctx context.Context, signedMessage string) (bids.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	row, err := s.db.GetBid(ctx, signedMessage)
	if err == sql.ErrNoRows {
		return bids.Bid{}, bids.ErrNotFound
	}
	if err != nil {
		return bids.Bid{}, fmt.Errorf("getting bid: %s", err)
	}
	b, err := record.Read(fromRow(row))
	if err != nil {
		return bids.Bid{}, fmt.Errorf("reading bid: %s", err)
	}
	return b, nil
}

// Cancel sets the cancel date of an active bid. Concurrent cancellations of
// the same bid serialize on the conditional update, and only one succeeds.
func (s *Store) Cancel(ctx context.Context, signedMessage string, cancelDate int64) error {
	if cancelDate < 1 {
		return fmt.Errorf("cancel date %d must be positive", cancelDate)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.db.CancelBid(ctx, db.CancelBidParams{
		SignedMessage: signedMessage,
		CancelDate:    sql.NullInt64{Int64: cancelDate, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("cancelling bid: %s", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing was updated, either the bid doesn't exist or somebody else
	// cancelled it before.
	if _, err := s.db.GetBid(ctx, signedMessage); err != nil {
		if err == sql.ErrNoRows {
			return bids.ErrNotFound
		}
		return fmt.Errorf("getting cancelled bid: %s", err)
	}
	return bids.ErrAlreadyCancelled
}

// InsertLegacy stores a record keeping its historical shape. The item id is
// computed if the record doesn't carry one. It returns bids.ErrBidExists if
// the record was already imported.
func (s *Store) InsertLegacy(ctx context.Context, sb record.StoredBid) error {
	if _, err := record.Normalize(sb); err != nil {
		return err
	}
	if sb.ItemID == nil {
		itemID := sb.NftID
		if itemID == nil && sb.ContractAddress != nil {
			id := codec.ComputeItemID(*sb.ContractAddress, sb.TokenID)
			itemID = &id
		}
		sb.ItemID = itemID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.InsertBid(ctx, insertParams(sb)); err != nil {
		if storeutil.IsUniqueViolation(err) {
			return bids.ErrBidExists
		}
		return fmt.Errorf("inserting legacy bid: %s", err)
	}
	return nil
}

// Archive stores records in the archive table, the way cancellations were
// kept before they were an in-place flag. It runs in a single transaction.
func (s *Store) Archive(ctx context.Context, sbs []record.StoredBid) error {
	return storeutil.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		queries := s.db.WithTx(tx)
		for _, sb := range sbs {
			if _, err := record.Normalize(sb); err != nil {
				return err
			}
			p := insertParams(sb)
			if err := queries.InsertArchivedBid(ctx, db.InsertArchivedBidParams(p)); err != nil {
				return fmt.Errorf("archiving bid: %s", err)
			}
		}
		return nil
	}, storeutil.TxWithIsolation(sql.LevelSerializable))
}

// ListArchived returns the archived bids.
func (s *Store) ListArchived(ctx context.Context) ([]bids.Bid, error) {
	rows, err := s.db.ListArchivedBids(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing archived bids: %s", err)
	}
	res := make([]bids.Bid, 0, len(rows))
	for _, r := range rows {
		b, err := record.Read(fromRow(db.Bid(r)))
		if err != nil {
			log.Warnf("skipping archived bid: %s", err)
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

// RestoreArchived copies archived bids back as cancelled bids. Bids already
// present are skipped. It returns the number of restored bids.
func (s *Store) RestoreArchived(ctx context.Context) (int64, error) {
	n, err := s.db.RestoreArchivedBids(ctx)
	if err != nil {
		return 0, fmt.Errorf("restoring archived bids: %s", err)
	}
	return n, nil
}

// ExpireLegacy closes the block window of unversioned bids. It returns the
// number of updated bids.
func (s *Store) ExpireLegacy(ctx context.Context) (int64, error) {
	n, err := s.db.ExpireLegacyBids(ctx)
	if err != nil {
		return 0, fmt.Errorf("expiring legacy bids: %s", err)
	}
	return n, nil
}

// Duplicates returns nonces used more than once by the same account.
func (s *Store) Duplicates(ctx context.Context) ([]Duplicate, error) {
	rows, err := s.db.ListDuplicateNonces(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing duplicate nonces: %s", err)
	}
	res := make([]Duplicate, len(rows))
	for i, r := range rows {
		res[i] = Duplicate(r)
	}
	return res, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("closing db connection: %s", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, p Predicate) ([]bids.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := p.Render()
	rows, err := s.db.ListBidsWhere(ctx, where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %s", err)
	}
	res := make([]bids.Bid, 0, len(rows))
	for _, r := range rows {
		b, err := record.Read(fromRow(r))
		if err != nil {
			if errors.Is(err, record.ErrIncompleteRecord) {
				log.Warnf("skipping bid: %s", err)
				continue
			}
			return nil, fmt.Errorf("reading bid: %s", err)
		}
		res = append(res, b)
	}
	return res, nil
}

func insertParams(sb record.StoredBid) db.InsertBidParams {
	p := db.InsertBidParams{
		SignedMessage:   sb.SignedMessage,
		Account:         sb.Account,
		BidNonce:        nullString(sb.BidNonce),
		AuctionID:       nullString(sb.AuctionID),
		BidAmount:       sb.BidAmount,
		MinimumBid:      sb.MinimumBid,
		ContractAddress: nullString(sb.ContractAddress),
		TokenID:         sb.TokenID,
		BidToken:        nullString(sb.BidToken),
		StartBlock:      sb.StartBlock,
		ExpireBlock:     sb.ExpireBlock,
		Date:            sb.Date,
		Version:         nullString(sb.Version),
	}
	if sb.ItemID != nil {
		p.ItemID = *sb.ItemID
	}
	if sb.CancelDate != nil {
		p.CancelDate = sql.NullInt64{Int64: *sb.CancelDate, Valid: true}
	}
	return p
}

func fromRow(r db.Bid) record.StoredBid {
	sb := record.StoredBid{
		Account:         r.Account,
		SignedMessage:   r.SignedMessage,
		BidNonce:        stringPtr(r.BidNonce),
		AuctionID:       stringPtr(r.AuctionID),
		BidAmount:       r.BidAmount,
		MinimumBid:      r.MinimumBid,
		ContractAddress: stringPtr(r.ContractAddress),
		TokenID:         r.TokenID,
		BidToken:        stringPtr(r.BidToken),
		StartBlock:      r.StartBlock,
		ExpireBlock:     r.ExpireBlock,
		Date:            r.Date,
		Version:         stringPtr(r.Version),
	}
	if r.ItemID != "" {
		itemID := r.ItemID
		sb.ItemID = &itemID
	}
	if r.CancelDate.Valid {
		cd := r.CancelDate.Int64
		sb.CancelDate = &cd
	}
	return sb
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
