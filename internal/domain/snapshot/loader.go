package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/floroz/auction-client/internal/domain/auctions"
	"github.com/floroz/auction-client/internal/domain/history"
	"github.com/floroz/auction-client/pkg/metrics"
)

var ErrSnapshotFailed = errors.New("snapshot load failed")

// Snapshot is a complete set of records fetched from the backend.
// Parts that were not requested are left unset.
type Snapshot struct {
	OwnerID  int64
	Auctions []auctions.Auction

	Items    []auctions.Item
	HasItems bool

	Purchased  []auctions.Auction
	Sold       []auctions.Auction
	HasHistory bool
}

// Stats summarises what Apply did
type Stats struct {
	Applied int
	Skipped int
}

// Loader fetches bulk snapshots and applies them to the store.
//
// Fetching never touches local state, so a failed fetch leaves the store at
// its last known good state. Apply must run under the caller's lock.
type Loader struct {
	store      *auctions.Store
	classifier *history.Classifier
	auctions   auctions.SnapshotService
	inventory  auctions.InventoryService
	history    auctions.HistoryService
	metrics    metrics.Recorder
	logger     *slog.Logger
}

// NewLoader creates a loader. inventory and hist may be nil, in which case
// those parts of the snapshot are never fetched.
func NewLoader(
	store *auctions.Store,
	classifier *history.Classifier,
	snapshots auctions.SnapshotService,
	inventory auctions.InventoryService,
	hist auctions.HistoryService,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Loader {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:      store,
		classifier: classifier,
		auctions:   snapshots,
		inventory:  inventory,
		history:    hist,
		metrics:    recorder,
		logger:     logger,
	}
}

// Fetch loads the auction list, the owner's inventory and history in parallel
func (l *Loader) Fetch(ctx context.Context, ownerID int64) (*Snapshot, error) {
	start := time.Now()
	defer func() { l.metrics.Timing(metrics.SnapshotLatency, time.Since(start), "part", "full") }()

	snap := &Snapshot{OwnerID: ownerID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		list, err := l.auctions.ListAuctions(gctx)
		if err != nil {
			return fmt.Errorf("failed to list auctions: %w", err)
		}
		snap.Auctions = list
		return nil
	})

	if l.inventory != nil {
		g.Go(func() error {
			items, err := l.inventory.ListItems(gctx, ownerID)
			if err != nil {
				return fmt.Errorf("failed to list items: %w", err)
			}
			snap.Items, snap.HasItems = items, true
			return nil
		})
	}

	var purchased, sold []auctions.Auction
	if l.history != nil {
		g.Go(func() error {
			var err error
			if purchased, err = l.history.Purchased(gctx, ownerID); err != nil {
				return fmt.Errorf("failed to load purchased history: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if sold, err = l.history.Sold(gctx, ownerID); err != nil {
				return fmt.Errorf("failed to load sold history: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		l.metrics.Incr(metrics.SnapshotErr, "part", "full")
		l.logger.Error("Failed to fetch snapshot", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSnapshotFailed, err)
	}
	if l.history != nil {
		snap.Purchased, snap.Sold, snap.HasHistory = purchased, sold, true
	}
	return snap, nil
}

// FetchInventory loads only the owner's inventory
func (l *Loader) FetchInventory(ctx context.Context, ownerID int64) (*Snapshot, error) {
	if l.inventory == nil {
		return &Snapshot{OwnerID: ownerID}, nil
	}
	items, err := l.inventory.ListItems(ctx, ownerID)
	if err != nil {
		l.metrics.Incr(metrics.SnapshotErr, "part", "inventory")
		return nil, fmt.Errorf("%w: failed to list items: %w", ErrSnapshotFailed, err)
	}
	return &Snapshot{OwnerID: ownerID, Items: items, HasItems: true}, nil
}

// FetchOne loads the latest record of a single auction.
// It returns nil without error when the backend does not know the id.
func (l *Loader) FetchOne(ctx context.Context, id int64) (*auctions.Auction, error) {
	a, err := l.auctions.GetAuction(ctx, id)
	if err != nil {
		l.metrics.Incr(metrics.SnapshotErr, "part", "auction")
		return nil, fmt.Errorf("%w: failed to get auction %d: %w", ErrSnapshotFailed, id, err)
	}
	return a, nil
}

// Apply writes a fetched snapshot into the store in one pass.
// Rows for auctions already closed by the stream are skipped.
func (l *Loader) Apply(s *Snapshot) Stats {
	var st Stats
	for _, a := range s.Auctions {
		if l.ApplyOne(a) {
			st.Applied++
		} else {
			st.Skipped++
		}
	}
	if s.HasItems {
		l.store.SetItems(s.OwnerID, s.Items)
	}
	if s.HasHistory && l.classifier != nil {
		l.classifier.Seed(s.Purchased, s.Sold)
	}

	l.logger.Info("Snapshot applied",
		"auctions", st.Applied,
		"skipped", st.Skipped,
		"items", len(s.Items),
	)
	return st
}

// ApplyOne writes a single full record. It reports false when the record
// was skipped because the auction is already closed locally.
func (l *Loader) ApplyOne(a auctions.Auction) bool {
	if a.ID <= 0 || l.store.IsEvicted(a.ID) {
		return false
	}
	l.store.Upsert(a)
	if a.Status == auctions.StatusOpen {
		l.store.Index(a.ID)
	}
	return true
}
