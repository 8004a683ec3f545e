package views

import (
	"github.com/floroz/auction-client/internal/domain/auctions"
	"github.com/floroz/auction-client/internal/domain/history"
)

// ViewMode is the list the user is looking at
type ViewMode int

const (
	ModeOpenAuctions ViewMode = iota
	ModeActiveBids
	ModeSell
	ModePurchased
	ModeSold
)

func (m ViewMode) String() string {
	switch m {
	case ModeOpenAuctions:
		return "open_auctions"
	case ModeActiveBids:
		return "active_bids"
	case ModeSell:
		return "sell"
	case ModePurchased:
		return "purchased"
	case ModeSold:
		return "sold"
	default:
		return "unknown"
	}
}

// Query selects a view
type Query struct {
	Mode   ViewMode
	UserID int64
	Filter Filter
}

// View is the result of a projection. Auctions is set for auction lists,
// Items for the sell view.
type View struct {
	Mode     ViewMode
	Auctions []auctions.Auction
	Items    []auctions.Item
}

// Projector derives read-only views from the store and the ledgers.
// Nothing is cached; every call recomputes from current state.
type Projector struct {
	store   *auctions.Store
	history *history.Classifier
}

// NewProjector creates a projector
func NewProjector(store *auctions.Store, classifier *history.Classifier) *Projector {
	return &Projector{store: store, history: classifier}
}

// OpenAuctions returns open, listed auctions matching the filter, in listing order
func (p *Projector) OpenAuctions(f Filter) []auctions.Auction {
	out := make([]auctions.Auction, 0)
	for _, a := range p.store.Open() {
		if a.Status == auctions.StatusOpen && f.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}

// ActiveBids returns the auctions the user takes part in that have not been
// closed by the stream, whatever their status.
func (p *Projector) ActiveBids(userID int64) []auctions.Auction {
	out := make([]auctions.Auction, 0)
	for _, a := range p.store.All() {
		if p.store.IsEvicted(a.ID) {
			continue
		}
		if a.HasParticipant(userID) {
			out = append(out, a)
		}
	}
	return out
}

// AvailableItems returns the owner's items that can be put up for auction
func (p *Projector) AvailableItems(ownerID int64) []auctions.Item {
	out := make([]auctions.Item, 0)
	for _, it := range p.store.Items(ownerID) {
		if it.IsAvailable && !p.store.BacksOpenAuction(it.ID) {
			out = append(out, it)
		}
	}
	return out
}

// Purchased returns the purchased ledger
func (p *Projector) Purchased() []auctions.Auction {
	return p.history.Purchased()
}

// Sold returns the sold ledger
func (p *Projector) Sold() []auctions.Auction {
	return p.history.Sold()
}

// Project computes the view for the query
func (p *Projector) Project(q Query) View {
	v := View{Mode: q.Mode}
	switch q.Mode {
	case ModeOpenAuctions:
		v.Auctions = p.OpenAuctions(q.Filter)
	case ModeActiveBids:
		v.Auctions = p.ActiveBids(q.UserID)
	case ModeSell:
		v.Items = p.AvailableItems(q.UserID)
	case ModePurchased:
		v.Auctions = p.Purchased()
	case ModeSold:
		v.Auctions = p.Sold()
	}
	return v
}
