// Package migrator moves bids recorded in older layouts into the current
// ledger store, and replays the stored history as bid events.
package migrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	golog "github.com/ipfs/go-log/v2"
	"github.com/sourcegraph/conc/pool"
	"github.com/zer0-os/bids-core/bids"
	"github.com/zer0-os/bids-core/bids/record"
	"github.com/zer0-os/bids-core/cmd/bidsd/store"
	"github.com/zer0-os/bids-core/msgbroker"
)

var log = golog.Logger("bidsmigrate/migrator")

// Store is the ledger store surface used by migrations. *store.Store
// satisfies it.
type Store interface {
	ListAll(ctx context.Context, f bids.StatusFilter) ([]bids.Bid, error)
	ListArchived(ctx context.Context) ([]bids.Bid, error)
	Archive(ctx context.Context, sbs []record.StoredBid) error
	RestoreArchived(ctx context.Context) (int64, error)
	InsertLegacy(ctx context.Context, sb record.StoredBid) error
	ExpireLegacy(ctx context.Context) (int64, error)
	Duplicates(ctx context.Context) ([]store.Duplicate, error)
}

// Source lists and opens legacy per-item bid documents.
type Source interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// History is the exported event history.
type History struct {
	BidsPlaced    []msgbroker.Envelope `json:"bidsPlaced"`
	BidsCancelled []msgbroker.Envelope `json:"bidsCancelled"`
}

// ImportSummary counts the outcome of an import.
type ImportSummary struct {
	Files      int64
	Imported   int64
	Duplicates int64
	Invalid    int64
}

func (s ImportSummary) String() string {
	return fmt.Sprintf("%s files, %s bids imported, %s duplicates, %s invalid",
		humanize.Comma(s.Files), humanize.Comma(s.Imported),
		humanize.Comma(s.Duplicates), humanize.Comma(s.Invalid))
}

// Migrator runs one-off migrations against a store.
type Migrator struct {
	store       Store
	clock       func() time.Time
	concurrency int
}

// New returns a new Migrator. concurrency bounds how many documents are
// imported at the same time.
func New(s Store, concurrency int) (*Migrator, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	if concurrency <= 0 {
		return nil, errors.New("concurrency should be positive")
	}
	return &Migrator{store: s, clock: time.Now, concurrency: concurrency}, nil
}

// ImportArchive restores archived bids as cancelled bids. It returns the
// number of restored bids.
func (m *Migrator) ImportArchive(ctx context.Context) (int64, error) {
	archived, err := m.store.ListArchived(ctx)
	if err != nil {
		return 0, err
	}
	log.Infof("%s archived bids found", humanize.Comma(int64(len(archived))))
	n, err := m.store.RestoreArchived(ctx)
	if err != nil {
		return 0, err
	}
	log.Infof("%s archived bids restored, %s already present",
		humanize.Comma(n), humanize.Comma(int64(len(archived))-n))
	return n, nil
}

// ExpireLegacy closes the block window of unversioned bids.
func (m *Migrator) ExpireLegacy(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireLegacy(ctx)
	if err != nil {
		return 0, err
	}
	log.Infof("%s legacy bids expired", humanize.Comma(n))
	return n, nil
}

// FindDuplicates returns the nonces used by more than one bid of an account.
func (m *Migrator) FindDuplicates(ctx context.Context) ([]store.Duplicate, error) {
	dups, err := m.store.Duplicates(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range dups {
		log.Warnf("nonce %s of %s is used by %s bids", d.Nonce, d.Account, humanize.Comma(d.Total))
	}
	return dups, nil
}

// ExportHistory builds placement and cancellation events for every stored and
// archived bid. Cancelled bids are stored without their signature, so only
// their cancellation is exported. Archived bids without a cancel date are
// stamped with the current time.
func (m *Migrator) ExportHistory(ctx context.Context) (History, error) {
	all, err := m.store.ListAll(ctx, bids.StatusAll)
	if err != nil {
		return History{}, err
	}
	archived, err := m.store.ListArchived(ctx)
	if err != nil {
		return History{}, err
	}

	h := History{BidsPlaced: []msgbroker.Envelope{}, BidsCancelled: []msgbroker.Envelope{}}
	for _, b := range all {
		if b.Cancelled() {
			env, err := msgbroker.BidCancelledEnvelope(b)
			if err != nil {
				return History{}, fmt.Errorf("creating cancelled event: %s", err)
			}
			h.BidsCancelled = append(h.BidsCancelled, env)
			continue
		}
		env, err := msgbroker.BidPlacedEnvelope(b)
		if err != nil {
			return History{}, fmt.Errorf("creating placed event: %s", err)
		}
		h.BidsPlaced = append(h.BidsPlaced, env)
	}
	for _, b := range archived {
		if !b.Cancelled() {
			b.CancelDate = m.clock().UnixMilli()
		}
		env, err := msgbroker.BidCancelledEnvelope(record.Redact(b))
		if err != nil {
			return History{}, fmt.Errorf("creating archived cancelled event: %s", err)
		}
		h.BidsCancelled = append(h.BidsCancelled, env)
	}
	log.Infof("%s placed and %s cancelled events exported",
		humanize.Comma(int64(len(h.BidsPlaced))), humanize.Comma(int64(len(h.BidsCancelled))))
	return h, nil
}

// WriteHistory writes h as indented JSON.
func WriteHistory(w io.Writer, h History) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encoding history: %s", err)
	}
	return nil
}

// PublishHistory publishes the history in batches of batchSize envelopes,
// placements first. It returns the number of published envelopes.
func PublishHistory(ctx context.Context, mb msgbroker.MsgBroker, h History, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size should be positive")
	}
	var published int
	for _, envs := range [][]msgbroker.Envelope{h.BidsPlaced, h.BidsCancelled} {
		for start := 0; start < len(envs); start += batchSize {
			end := start + batchSize
			if end > len(envs) {
				end = len(envs)
			}
			if err := msgbroker.PublishBatch(ctx, mb, envs[start:end]); err != nil {
				return published, err
			}
			published += end - start
			log.Debugf("published %d/%d events", published, len(h.BidsPlaced)+len(h.BidsCancelled))
		}
	}
	return published, nil
}

// ImportFiles imports the bids of every legacy document under prefix. With
// archive set, bids are stored in the archive table instead, to be restored
// later by ImportArchive.
func (m *Migrator) ImportFiles(ctx context.Context, src Source, prefix string, archive bool) (ImportSummary, error) {
	names, err := src.List(ctx, prefix)
	if err != nil {
		return ImportSummary{}, err
	}

	var sum ImportSummary
	p := pool.New().WithMaxGoroutines(m.concurrency).WithContext(ctx).WithCancelOnError()
	for _, name := range names {
		name := name
		p.Go(func(ctx context.Context) error {
			fs, err := m.importFile(ctx, src, name, archive)
			if err != nil {
				return fmt.Errorf("importing %s: %w", name, err)
			}
			atomic.AddInt64(&sum.Files, 1)
			atomic.AddInt64(&sum.Imported, fs.Imported)
			atomic.AddInt64(&sum.Duplicates, fs.Duplicates)
			atomic.AddInt64(&sum.Invalid, fs.Invalid)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return sum, err
	}
	log.Infof("import finished: %s", sum)
	return sum, nil
}

func (m *Migrator) importFile(ctx context.Context, src Source, name string, archive bool) (ImportSummary, error) {
	r, err := src.Open(ctx, name)
	if err != nil {
		return ImportSummary{}, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warnf("closing %s: %s", name, err)
		}
	}()

	var doc record.LegacyAuction
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ImportSummary{}, fmt.Errorf("decoding document: %s", err)
	}

	var sum ImportSummary
	var valid []record.StoredBid
	for _, sb := range doc.StoredBids() {
		if _, err := record.Normalize(sb); err != nil {
			log.Warnf("skipping bid in %s: %s", name, err)
			sum.Invalid++
			continue
		}
		valid = append(valid, sb)
	}

	if archive {
		if len(valid) > 0 {
			if err := m.store.Archive(ctx, valid); err != nil {
				return ImportSummary{}, err
			}
		}
		sum.Imported = int64(len(valid))
		return sum, nil
	}

	for _, sb := range valid {
		err := m.store.InsertLegacy(ctx, sb)
		if errors.Is(err, bids.ErrBidExists) {
			sum.Duplicates++
			continue
		}
		if err != nil {
			return ImportSummary{}, err
		}
		sum.Imported++
	}
	log.Debugf("%s: %d imported, %d duplicates, %d invalid", name, sum.Imported, sum.Duplicates, sum.Invalid)
	return sum, nil
}
