package ingest

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/floroz/auction-client/internal/domain/auctions"
	"github.com/floroz/auction-client/internal/domain/history"
	"github.com/floroz/auction-client/pkg/metrics"
)

// DefaultDedupWindow is the number of recent event ids remembered
const DefaultDedupWindow = 1024

// Result is the outcome of applying one event
type Result int

const (
	ResultApplied Result = iota
	ResultDropped
	ResultDuplicate
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultDropped:
		return "dropped"
	case ResultDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Filer files terminal records into the user's history
type Filer interface {
	File(a auctions.Auction) []history.Ledger
}

// Ingestor applies stream events to the store.
//
// A closed auction is terminal: once evicted, no created or updated event
// can bring it back. Redelivered events converge because every merge is
// idempotent; envelopes with an id are also checked against a window of
// recently seen ids.
//
// Ingestor is not safe for concurrent use; callers serialise access.
type Ingestor struct {
	store   *auctions.Store
	filer   Filer
	metrics metrics.Recorder
	logger  *slog.Logger

	seen map[uuid.UUID]struct{}
	ring []uuid.UUID
	next int
}

// NewIngestor creates an ingestor. window <= 0 uses DefaultDedupWindow.
func NewIngestor(store *auctions.Store, filer Filer, recorder metrics.Recorder, logger *slog.Logger, window int) *Ingestor {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:   store,
		filer:   filer,
		metrics: recorder,
		logger:  logger,
		seen:    make(map[uuid.UUID]struct{}, window),
		ring:    make([]uuid.UUID, window),
	}
}

// Apply applies a single event. Malformed and stale events are dropped,
// never returned as errors: one bad message must not stop the stream.
func (i *Ingestor) Apply(ev Event) Result {
	if err := ev.Validate(); err != nil {
		i.logger.Warn("Dropping malformed event", "kind", ev.Kind, "event_id", ev.ID, "error", err)
		i.metrics.Incr(metrics.EventsDropped, "kind", string(ev.Kind), "reason", "malformed")
		return ResultDropped
	}

	if ev.ID != uuid.Nil {
		if _, dup := i.seen[ev.ID]; dup {
			i.logger.Debug("Event already applied, skipping", "event_id", ev.ID, "kind", ev.Kind)
			i.metrics.Incr(metrics.EventsDuplicate, "kind", string(ev.Kind))
			return ResultDuplicate
		}
		i.remember(ev.ID)
	}

	var res Result
	switch ev.Kind {
	case KindAuctionCreated:
		res = i.applyCreated(*ev.Auction)
	case KindAuctionUpdated:
		res = i.applyUpdated(*ev.Patch)
	case KindAuctionClosed:
		res = i.applyClosed(*ev.Auction)
	case KindTransactionCreated:
		res = i.applyTransaction(*ev.Auction)
	}

	if res == ResultDropped {
		i.logger.Debug("Dropping stale event", "kind", ev.Kind, "auction_id", ev.AuctionID())
		i.metrics.Incr(metrics.EventsDropped, "kind", string(ev.Kind), "reason", "terminal")
		return res
	}
	i.metrics.Incr(metrics.EventsApplied, "kind", string(ev.Kind))
	return res
}

func (i *Ingestor) applyCreated(a auctions.Auction) Result {
	if i.store.IsTerminal(a.ID) {
		return ResultDropped
	}
	i.store.Upsert(a)
	if a.Status == auctions.StatusOpen {
		i.store.Index(a.ID)
	}
	return ResultApplied
}

func (i *Ingestor) applyUpdated(p auctions.PartialAuction) Result {
	if i.store.IsTerminal(p.ID) {
		return ResultDropped
	}
	i.store.Patch(p)
	// a patch may be the first sight of an auction; list it once it is known open
	if rec, _ := i.store.Get(p.ID); rec.Status == auctions.StatusOpen {
		i.store.Index(p.ID)
	}
	return ResultApplied
}

func (i *Ingestor) applyClosed(a auctions.Auction) Result {
	i.store.Upsert(a)
	i.store.Evict(a.ID)
	i.file(a.ID)
	return ResultApplied
}

func (i *Ingestor) applyTransaction(a auctions.Auction) Result {
	i.store.Upsert(a)
	i.file(a.ID)
	return ResultApplied
}

func (i *Ingestor) file(id int64) {
	if i.filer == nil {
		return
	}
	rec, ok := i.store.Get(id)
	if !ok {
		return
	}
	if ledgers := i.filer.File(rec); len(ledgers) > 0 {
		i.logger.Info("Auction filed into history", "auction_id", id, "ledgers", ledgers)
	}
}

func (i *Ingestor) remember(id uuid.UUID) {
	if old := i.ring[i.next]; old != uuid.Nil {
		delete(i.seen, old)
	}
	i.ring[i.next] = id
	i.seen[id] = struct{}{}
	i.next = (i.next + 1) % len(i.ring)
}
