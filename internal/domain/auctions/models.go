package auctions

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of an auction
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusSold      Status = "SOLD"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the known values
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusSold, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the auction no longer accepts bids.
// An empty status is not terminal: it belongs to a record known only from a partial update.
func (s Status) IsTerminal() bool {
	return s != "" && s != StatusOpen
}

// ItemType is the catalogue category of an inventory item
type ItemType string

const (
	ItemTypeHeroes    ItemType = "Héroes"
	ItemTypeWeapons   ItemType = "Armas"
	ItemTypeArmor     ItemType = "Armaduras"
	ItemTypeItems     ItemType = "Ítems"
	ItemTypeAbilities ItemType = "Habilidades especiales"
	ItemTypeEpics     ItemType = "Épicas"
)

// Item represents an inventory item that can back an auction
type Item struct {
	ID          int64    `json:"id"`
	OwnerID     int64    `json:"userId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        ItemType `json:"type"`
	HeroType    string   `json:"heroType,omitempty"`
	ImageURL    string   `json:"imagen,omitempty"`
	IsAvailable bool     `json:"isAvailable"`
}

// Bid represents a user's bid on an auction
type Bid struct {
	ID        int64           `json:"id"`
	AuctionID int64           `json:"auctionId"`
	UserID    int64           `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`

	// Provisional marks a bid applied locally before the server confirmed it.
	Provisional bool `json:"-"`
}

// UnmarshalJSON accepts both "timestamp" and "createdAt" for the bid time.
func (b *Bid) UnmarshalJSON(data []byte) error {
	type plain Bid
	var wire struct {
		plain
		CreatedAt *time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*b = Bid(wire.plain)
	if b.Timestamp.IsZero() && wire.CreatedAt != nil {
		b.Timestamp = *wire.CreatedAt
	}
	return nil
}

// Auction is the canonical client-side record of an auction
type Auction struct {
	ID              int64            `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	StartingPrice   decimal.Decimal  `json:"startingPrice"`
	CurrentPrice    decimal.Decimal  `json:"currentPrice"`
	BuyNowPrice     *decimal.Decimal `json:"buyNowPrice,omitempty"`
	Status          Status           `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	EndsAt          time.Time        `json:"endsAt"`
	Bids            []Bid            `json:"bids"`
	BidsCount       int              `json:"bidsCount"`
	HighestBid      *Bid             `json:"highestBid,omitempty"`
	HighestBidderID *int64           `json:"highestBidderId,omitempty"`
	Item            Item             `json:"item"`
}

// UnmarshalJSON decodes the backend representation, where auctions are
// named after their item when no explicit title is sent.
func (a *Auction) UnmarshalJSON(data []byte) error {
	type plain Auction
	var wire plain
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*a = Auction(wire)
	if a.Title == "" {
		a.Title = a.Item.Name
	}
	if a.Description == "" {
		a.Description = a.Item.Description
	}
	return nil
}

// Clone returns a deep copy so callers never share slices or pointers with the store
func (a Auction) Clone() Auction {
	out := a
	if a.Bids != nil {
		out.Bids = make([]Bid, len(a.Bids))
		copy(out.Bids, a.Bids)
	}
	if a.BuyNowPrice != nil {
		v := *a.BuyNowPrice
		out.BuyNowPrice = &v
	}
	if a.HighestBid != nil {
		v := *a.HighestBid
		out.HighestBid = &v
	}
	if a.HighestBidderID != nil {
		v := *a.HighestBidderID
		out.HighestBidderID = &v
	}
	return out
}

// HasParticipant reports whether the user placed a bid or currently leads the auction
func (a Auction) HasParticipant(userID int64) bool {
	if a.HighestBidderID != nil && *a.HighestBidderID == userID {
		return true
	}
	for _, b := range a.Bids {
		if b.UserID == userID {
			return true
		}
	}
	return false
}

// Duration is the scheduled length of the auction
func (a Auction) Duration() time.Duration {
	return a.EndsAt.Sub(a.CreatedAt)
}
