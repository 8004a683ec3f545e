package auctions

import (
	"context"

	"github.com/shopspring/decimal"
)

// SnapshotService defines the bulk read side of the auction backend
type SnapshotService interface {
	// ListAuctions returns the full current auction list
	ListAuctions(ctx context.Context) ([]Auction, error)

	// GetAuction returns a single auction, or nil when the backend does not know it
	GetAuction(ctx context.Context, id int64) (*Auction, error)
}

// InventoryService defines the inventory backend
type InventoryService interface {
	// ListItems returns the items owned by a user
	ListItems(ctx context.Context, ownerID int64) ([]Item, error)
}

// ActionService defines the user-initiated mutations on the backend
type ActionService interface {
	// PlaceBid submits a bid; false means the backend rejected it
	PlaceBid(ctx context.Context, auctionID int64, amount decimal.Decimal) (bool, error)

	// BuyNow buys the auction at its buy-now price
	BuyNow(ctx context.Context, auctionID int64) (bool, error)
}

// HistoryService defines the backend endpoints for past transactions
type HistoryService interface {
	// Purchased returns auctions won by the user
	Purchased(ctx context.Context, userID int64) ([]Auction, error)

	// Sold returns auctions of items owned by the user that have been sold
	Sold(ctx context.Context, userID int64) ([]Auction, error)
}

// UserDirectory resolves user ids to display names
type UserDirectory interface {
	Username(ctx context.Context, userID int64) (string, error)
}
