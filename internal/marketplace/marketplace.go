package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/auction-client/internal/domain/actions"
	"github.com/floroz/auction-client/internal/domain/auctions"
	"github.com/floroz/auction-client/internal/domain/history"
	"github.com/floroz/auction-client/internal/domain/ingest"
	"github.com/floroz/auction-client/internal/domain/snapshot"
	"github.com/floroz/auction-client/internal/domain/views"
	"github.com/floroz/auction-client/pkg/metrics"
)

// Config holds the per-session settings
type Config struct {
	UserID           int64
	DedupWindow      int
	SubscriberBuffer int
	PrefetchBuyNow   bool
	CallTimeout      time.Duration
}

// Dependencies are the backend collaborators. Inventory, History and
// Directory are optional.
type Dependencies struct {
	Snapshots auctions.SnapshotService
	Inventory auctions.InventoryService
	Actions   auctions.ActionService
	History   auctions.HistoryService
	Directory auctions.UserDirectory
	Commands  actions.CommandPublisher
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

var ErrItemNotAvailable = fmt.Errorf("item is not available")

// Marketplace is the client-side state of one user's session.
//
// Every read and write of the store, ledgers and selection happens under mu,
// so readers never see half-applied events or snapshots. Backend calls run
// without the lock.
type Marketplace struct {
	mu sync.Mutex

	cfg        Config
	store      *auctions.Store
	classifier *history.Classifier
	ingestor   *ingest.Ingestor
	loader     *snapshot.Loader
	coord      *actions.Coordinator
	projector  *views.Projector
	selection  views.ItemSelection
	directory  auctions.UserDirectory

	hub    *hub
	logger *slog.Logger
}

// New wires a marketplace for cfg.UserID
func New(cfg Config, deps Dependencies) *Marketplace {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	m := &Marketplace{
		cfg:       cfg,
		store:     auctions.NewStore(),
		directory: deps.Directory,
		hub:       newHub(cfg.SubscriberBuffer),
		logger:    logger,
	}
	m.classifier = history.NewClassifier(cfg.UserID)
	m.ingestor = ingest.NewIngestor(m.store, m.classifier, recorder, logger.With("component", "ingestor"), cfg.DedupWindow)
	m.loader = snapshot.NewLoader(m.store, m.classifier, deps.Snapshots, deps.Inventory, deps.History, recorder, logger.With("component", "snapshot"))
	m.projector = views.NewProjector(m.store, m.classifier)
	m.coord = actions.NewCoordinator(
		&m.mu,
		m.store,
		deps.Actions,
		m.loader,
		deps.Commands,
		actions.Config{
			UserID:         cfg.UserID,
			PrefetchBuyNow: cfg.PrefetchBuyNow,
			CallTimeout:    cfg.CallTimeout,
		},
		actions.Hooks{
			OnActionStarted: func(a *actions.Action) {
				m.hub.publish(Change{Kind: ChangeAuction, AuctionID: a.AuctionID, ActionID: a.ID})
			},
			OnAuctionChanged: func(id int64) {
				m.hub.publish(Change{Kind: ChangeAuction, AuctionID: id})
			},
			OnActionFailed: func(a *actions.Action, err error) {
				m.hub.publish(Change{Kind: ChangeActionFailed, AuctionID: a.AuctionID, ActionID: a.ID, Err: err})
			},
		},
		recorder,
		logger.With("component", "actions"),
	)
	return m
}

// UserID returns the session user
func (m *Marketplace) UserID() int64 {
	return m.cfg.UserID
}

// Subscribe registers for change notifications
func (m *Marketplace) Subscribe() *Subscription {
	return m.hub.add()
}

// LoadSnapshot fetches auctions, inventory and history and applies them in
// one step. On failure the current state is kept.
func (m *Marketplace) LoadSnapshot(ctx context.Context) error {
	snap, err := m.loader.Fetch(ctx, m.cfg.UserID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.loader.Apply(snap)
	selChanged := m.reconcileSelectionLocked()
	m.mu.Unlock()

	m.hub.publish(Change{Kind: ChangeSnapshot})
	if selChanged {
		m.hub.publish(Change{Kind: ChangeSelection})
	}
	return nil
}

// LoadInventory refreshes the user's items
func (m *Marketplace) LoadInventory(ctx context.Context) error {
	snap, err := m.loader.FetchInventory(ctx, m.cfg.UserID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.loader.Apply(snap)
	selChanged := m.reconcileSelectionLocked()
	m.mu.Unlock()

	m.hub.publish(Change{Kind: ChangeInventory})
	if selChanged {
		m.hub.publish(Change{Kind: ChangeSelection})
	}
	return nil
}

// RefreshAuction re-reads one auction from the backend
func (m *Marketplace) RefreshAuction(ctx context.Context, id int64) error {
	a, err := m.loader.FetchOne(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}

	m.mu.Lock()
	applied := m.loader.ApplyOne(*a)
	m.mu.Unlock()

	if applied {
		m.hub.publish(Change{Kind: ChangeAuction, AuctionID: id})
	}
	return nil
}

// Ingest applies one stream event
func (m *Marketplace) Ingest(ev ingest.Event) ingest.Result {
	m.mu.Lock()
	res := m.ingestor.Apply(ev)
	selChanged := false
	if res == ingest.ResultApplied {
		selChanged = m.reconcileSelectionLocked()
	}
	m.mu.Unlock()

	if res != ingest.ResultApplied {
		return res
	}
	m.hub.publish(Change{Kind: ChangeAuction, AuctionID: ev.AuctionID()})
	if ev.Kind == ingest.KindAuctionClosed || ev.Kind == ingest.KindTransactionCreated {
		m.hub.publish(Change{Kind: ChangeHistory, AuctionID: ev.AuctionID()})
	}
	if selChanged {
		m.hub.publish(Change{Kind: ChangeSelection})
	}
	return res
}

// SubmitBid places a bid, showing it immediately
func (m *Marketplace) SubmitBid(ctx context.Context, auctionID int64, amount decimal.Decimal) (*actions.Action, error) {
	return m.coord.SubmitBid(ctx, auctionID, amount)
}

// SubmitBuyNow buys an auction at its buy now price
func (m *Marketplace) SubmitBuyNow(ctx context.Context, auctionID int64) (*actions.Action, error) {
	return m.coord.SubmitBuyNow(ctx, auctionID)
}

// SubmitCreateAuction queues a create auction command for the selected item
// when cmd names none.
func (m *Marketplace) SubmitCreateAuction(ctx context.Context, cmd actions.CreateAuctionCommand) (uuid.UUID, error) {
	if cmd.ItemID == 0 {
		m.mu.Lock()
		id, ok := m.selection.Selected()
		m.mu.Unlock()
		if !ok {
			return uuid.Nil, ErrItemNotAvailable
		}
		cmd.ItemID = id
	}
	cmd.UserID = m.cfg.UserID
	return m.coord.SubmitCreateAuction(ctx, cmd)
}

// Auction returns one record, including closed ones
func (m *Marketplace) Auction(id int64) (auctions.Auction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(id)
}

// OpenAuctions lists open auctions matching the filter
func (m *Marketplace) OpenAuctions(f views.Filter) []auctions.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projector.OpenAuctions(f)
}

// ActiveBids lists the auctions the user is bidding on
func (m *Marketplace) ActiveBids() []auctions.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projector.ActiveBids(m.cfg.UserID)
}

// AvailableItems lists the user's items that can be auctioned
func (m *Marketplace) AvailableItems() []auctions.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projector.AvailableItems(m.cfg.UserID)
}

// PurchasedHistory returns the auctions the user won
func (m *Marketplace) PurchasedHistory() []auctions.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projector.Purchased()
}

// SoldHistory returns the auctions of the user's items that closed
func (m *Marketplace) SoldHistory() []auctions.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projector.Sold()
}

// Project computes the view for q. A zero UserID means the session user.
func (m *Marketplace) Project(q views.Query) views.View {
	if q.UserID == 0 {
		q.UserID = m.cfg.UserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projector.Project(q)
}

// SelectedItem returns the item picked for a new auction
func (m *Marketplace) SelectedItem() (auctions.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.selection.Selected()
	if !ok {
		return auctions.Item{}, false
	}
	for _, it := range m.projector.AvailableItems(m.cfg.UserID) {
		if it.ID == id {
			return it, true
		}
	}
	return auctions.Item{}, false
}

// SelectItem picks the item for a new auction
func (m *Marketplace) SelectItem(itemID int64) error {
	m.mu.Lock()
	ok := m.selection.Select(itemID, m.projector.AvailableItems(m.cfg.UserID))
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrItemNotAvailable, itemID)
	}
	m.hub.publish(Change{Kind: ChangeSelection})
	return nil
}

// Username resolves a user id for display. It returns "N/A" when the
// directory is not configured or the lookup fails.
func (m *Marketplace) Username(ctx context.Context, userID int64) string {
	if m.directory == nil {
		return "N/A"
	}
	name, err := m.directory.Username(ctx, userID)
	if err != nil || name == "" {
		if err != nil {
			m.logger.Debug("Failed to resolve username", "user_id", userID, "error", err)
		}
		return "N/A"
	}
	return name
}

// Close waits for in-flight actions, then closes every subscription
func (m *Marketplace) Close() {
	m.coord.Wait()
	m.hub.closeAll()
}

func (m *Marketplace) reconcileSelectionLocked() bool {
	return m.selection.Reconcile(m.projector.AvailableItems(m.cfg.UserID))
}
