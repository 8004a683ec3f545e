package history

import (
	"github.com/floroz/auction-client/internal/domain/auctions"
)

// Ledger identifies one of the per-user histories
type Ledger string

const (
	LedgerPurchased Ledger = "purchased"
	LedgerSold      Ledger = "sold"
)

// Entry is an auction record as it was when filed
type Entry = auctions.Auction

// Classifier files closed and settled auctions into the purchased and sold
// ledgers of the current user. Both ledgers are ordered by descending EndsAt
// and are append/update-only.
//
// Classifier is not safe for concurrent use; callers serialise access.
type Classifier struct {
	userID    int64
	purchased []Entry
	sold      []Entry
}

// NewClassifier creates a classifier for the given user
func NewClassifier(userID int64) *Classifier {
	return &Classifier{userID: userID}
}

// UserID returns the user the ledgers belong to
func (c *Classifier) UserID() int64 {
	return c.userID
}

// File classifies a terminal record. The buyer and seller checks are
// independent, so a self-purchase lands in both ledgers.
// It returns the ledgers the record was filed into.
func (c *Classifier) File(a auctions.Auction) []Ledger {
	var filed []Ledger
	if a.HighestBidderID != nil && *a.HighestBidderID == c.userID {
		c.purchased = upsert(c.purchased, a)
		filed = append(filed, LedgerPurchased)
	}
	if a.Item.OwnerID == c.userID {
		c.sold = upsert(c.sold, a)
		filed = append(filed, LedgerSold)
	}
	return filed
}

// Seed loads ledgers fetched from the backend. Records already filed from
// the stream are updated in place.
func (c *Classifier) Seed(purchased, sold []auctions.Auction) {
	for _, a := range purchased {
		c.purchased = upsert(c.purchased, a)
	}
	for _, a := range sold {
		c.sold = upsert(c.sold, a)
	}
}

// Purchased returns a copy of the purchased ledger
func (c *Classifier) Purchased() []Entry {
	return copyLedger(c.purchased)
}

// Sold returns a copy of the sold ledger
func (c *Classifier) Sold() []Entry {
	return copyLedger(c.sold)
}

// upsert replaces the entry with the same id, or inserts the record before
// the first entry that does not end later than it.
func upsert(ledger []Entry, a auctions.Auction) []Entry {
	entry := a.Clone()
	for i := range ledger {
		if ledger[i].ID == entry.ID {
			ledger[i] = entry
			return ledger
		}
	}

	pos := len(ledger)
	for i := range ledger {
		if !ledger[i].EndsAt.After(entry.EndsAt) {
			pos = i
			break
		}
	}
	ledger = append(ledger, Entry{})
	copy(ledger[pos+1:], ledger[pos:])
	ledger[pos] = entry
	return ledger
}

func copyLedger(ledger []Entry) []Entry {
	out := make([]Entry, len(ledger))
	for i, e := range ledger {
		out[i] = e.Clone()
	}
	return out
}
