// Package memstore is an in-memory bids.Store. It keeps records in their
// persisted shape so reads go through the same normalization as postgres.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	golog "github.com/ipfs/go-log/v2"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/record"
)

var log = golog.Logger("bidsd/memstore")

// Store is an in-memory bids.Store.
type Store struct {
	lock    sync.Mutex
	records map[string]record.StoredBid
	nonces  map[string]string
}

var _ bids.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records: map[string]record.StoredBid{},
		nonces:  map[string]string{},
	}
}

// Insert stores a new bid.
func (s *Store) Insert(_ context.Context, b bids.Bid) error {
	return s.InsertRecord(record.FromBid(b))
}

// InsertRecord stores a record in any of its historical shapes. Incomplete
// records are kept, as in postgres, and skipped by listings.
func (s *Store) InsertRecord(sb record.StoredBid) error {
	b, err := record.Normalize(sb)
	complete := err == nil
	if err != nil && !errors.Is(err, record.ErrIncompleteRecord) {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.records[sb.SignedMessage]; ok {
		return bids.ErrBidExists
	}
	if complete {
		key := nonceKey(b)
		if _, ok := s.nonces[key]; ok {
			return bids.ErrBidExists
		}
		s.nonces[key] = sb.SignedMessage
	}
	s.records[sb.SignedMessage] = sb
	return nil
}

// ListByItemIDs returns bids for any of the item ids, newest first.
func (s *Store) ListByItemIDs(_ context.Context, itemIDs []string, f bids.StatusFilter) ([]bids.Bid, error) {
	ids := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		ids[id] = struct{}{}
	}
	return s.list(f, func(b bids.Bid) bool {
		_, ok := ids[b.ItemID]
		return ok
	})
}

// ListByAccount returns bids of account, newest first.
func (s *Store) ListByAccount(_ context.Context, account string, f bids.StatusFilter) ([]bids.Bid, error) {
	return s.list(f, func(b bids.Bid) bool {
		return strings.EqualFold(b.Account, account)
	})
}

// GetBySignature returns the bid with the signed message.
func (s *Store) GetBySignature(_ context.Context, signedMessage string) (bids.Bid, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	sb, ok := s.records[signedMessage]
	if !ok {
		return bids.Bid{}, bids.ErrNotFound
	}
	return record.Read(sb)
}

// Cancel sets the cancel date of an active bid.
func (s *Store) Cancel(_ context.Context, signedMessage string, cancelDate int64) error {
	if cancelDate < 1 {
		return fmt.Errorf("cancel date %d must be positive", cancelDate)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	sb, ok := s.records[signedMessage]
	if !ok {
		return bids.ErrNotFound
	}
	if sb.CancelDate != nil && *sb.CancelDate >= 1 {
		return bids.ErrAlreadyCancelled
	}
	sb.CancelDate = &cancelDate
	s.records[signedMessage] = sb
	return nil
}

func (s *Store) list(f bids.StatusFilter, match func(bids.Bid) bool) ([]bids.Bid, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := []bids.Bid{}
	for _, sb := range s.records {
		b, err := record.Normalize(sb)
		if err != nil {
			if errors.Is(err, record.ErrIncompleteRecord) {
				log.Warnf("skipping bid: %s", err)
				continue
			}
			return nil, fmt.Errorf("reading bid: %s", err)
		}
		if !match(b) || !f.Matches(b) {
			continue
		}
		res = append(res, record.Redact(b))
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Date == res[j].Date {
			return res[i].Nonce < res[j].Nonce
		}
		return res[i].Date > res[j].Date
	})
	return res, nil
}

func nonceKey(b bids.Bid) string {
	return strings.ToLower(b.Account) + "/" + b.Nonce
}
