package auctions

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartialAuction is a field-by-field patch for an auction.
// A nil field is absent and leaves the stored value untouched.
type PartialAuction struct {
	ID              int64            `json:"id"`
	Title           *string          `json:"title,omitempty"`
	Description     *string          `json:"description,omitempty"`
	StartingPrice   *decimal.Decimal `json:"startingPrice,omitempty"`
	CurrentPrice    *decimal.Decimal `json:"currentPrice,omitempty"`
	BuyNowPrice     *decimal.Decimal `json:"buyNowPrice,omitempty"`
	Status          *Status          `json:"status,omitempty"`
	CreatedAt       *time.Time       `json:"createdAt,omitempty"`
	EndsAt          *time.Time       `json:"endsAt,omitempty"`
	Bids            []Bid            `json:"bids,omitempty"`
	BidsCount       *int             `json:"bidsCount,omitempty"`
	HighestBid      *Bid             `json:"highestBid,omitempty"`
	HighestBidderID *int64           `json:"highestBidderId,omitempty"`
	Item            *Item            `json:"item,omitempty"`
}

// FromAuction converts a full record into a patch that asserts every field
func FromAuction(a Auction) PartialAuction {
	c := a.Clone()
	p := PartialAuction{
		ID:              c.ID,
		Title:           &c.Title,
		Description:     &c.Description,
		StartingPrice:   &c.StartingPrice,
		CurrentPrice:    &c.CurrentPrice,
		BuyNowPrice:     c.BuyNowPrice,
		Status:          &c.Status,
		CreatedAt:       &c.CreatedAt,
		EndsAt:          &c.EndsAt,
		Bids:            c.Bids,
		BidsCount:       &c.BidsCount,
		HighestBid:      c.HighestBid,
		HighestBidderID: c.HighestBidderID,
		Item:            &c.Item,
	}
	return p
}

// carriesPrice reports whether the patch asserts price or bid data,
// the fields a speculative bid guesses at.
func (p PartialAuction) carriesPrice() bool {
	return p.Bids != nil || p.CurrentPrice != nil
}

// applyPatch merges p into a and returns the result. a is not modified.
func applyPatch(a Auction, p PartialAuction) Auction {
	out := a.Clone()
	out.ID = p.ID

	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.StartingPrice != nil {
		out.StartingPrice = *p.StartingPrice
	}
	if p.CurrentPrice != nil {
		out.CurrentPrice = *p.CurrentPrice
	}
	if p.BuyNowPrice != nil {
		v := *p.BuyNowPrice
		out.BuyNowPrice = &v
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.CreatedAt != nil {
		out.CreatedAt = *p.CreatedAt
	}
	if p.EndsAt != nil {
		out.EndsAt = *p.EndsAt
	}
	if p.Item != nil {
		out.Item = *p.Item
	}

	if p.Bids != nil {
		merged, added := mergeBids(out.Bids, p.Bids, out.ID)
		out.Bids = merged

		count := len(merged)
		if p.BidsCount != nil && *p.BidsCount > count {
			count = *p.BidsCount
		}
		if grown := a.BidsCount + added; grown > count {
			count = grown
		}
		out.BidsCount = count

		out.HighestBid, out.HighestBidderID = highestOf(merged)
		if out.HighestBid == nil {
			// no bids at all: keep whatever the patch or record asserted
			out.HighestBid, out.HighestBidderID = pickHighest(a, p)
		}
	} else {
		if p.BidsCount != nil {
			out.BidsCount = *p.BidsCount
		}
		if p.HighestBid != nil {
			v := *p.HighestBid
			out.HighestBid = &v
		}
		if p.HighestBidderID != nil {
			v := *p.HighestBidderID
			out.HighestBidderID = &v
		}
	}

	clampPrice(&out)
	return out
}

func pickHighest(a Auction, p PartialAuction) (*Bid, *int64) {
	bid, bidder := a.HighestBid, a.HighestBidderID
	if p.HighestBid != nil {
		v := *p.HighestBid
		bid = &v
	}
	if p.HighestBidderID != nil {
		v := *p.HighestBidderID
		bidder = &v
	}
	return bid, bidder
}

// mergeBids is a set-union keyed by bid id. An incoming bid replaces an
// existing entry with the same id in place; new ids are appended in the
// order first seen. It returns the merged slice and how many ids were new.
func mergeBids(existing, incoming []Bid, auctionID int64) ([]Bid, int) {
	merged := make([]Bid, 0, len(existing)+len(incoming))
	index := make(map[int64]int, len(existing)+len(incoming))
	for _, b := range existing {
		if i, ok := index[b.ID]; ok {
			merged[i] = b
			continue
		}
		index[b.ID] = len(merged)
		merged = append(merged, b)
	}

	added := 0
	for _, b := range incoming {
		if b.AuctionID == 0 {
			b.AuctionID = auctionID
		}
		if i, ok := index[b.ID]; ok {
			merged[i] = b
			continue
		}
		index[b.ID] = len(merged)
		merged = append(merged, b)
		added++
	}
	return merged, added
}

// highestOf returns the first bid carrying the maximum amount
func highestOf(bids []Bid) (*Bid, *int64) {
	if len(bids) == 0 {
		return nil, nil
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount.GreaterThan(best.Amount) {
			best = b
		}
	}
	bidder := best.UserID
	return &best, &bidder
}

// clampPrice keeps CurrentPrice at or above StartingPrice
func clampPrice(a *Auction) {
	if a.CurrentPrice.LessThan(a.StartingPrice) {
		a.CurrentPrice = a.StartingPrice
	}
}

// stripProvisional removes locally applied bids and undoes their count bump.
// It reports whether anything was removed.
func stripProvisional(a *Auction, match func(Bid) bool) bool {
	kept := a.Bids[:0:0]
	removed := 0
	for _, b := range a.Bids {
		if b.Provisional && match(b) {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	if removed == 0 {
		return false
	}
	a.Bids = kept
	a.BidsCount -= removed
	if a.BidsCount < len(kept) {
		a.BidsCount = len(kept)
	}
	if a.HighestBid != nil && a.HighestBid.Provisional {
		a.HighestBid, a.HighestBidderID = highestOf(kept)
	}
	return true
}
