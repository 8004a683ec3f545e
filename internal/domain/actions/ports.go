package actions

import (
	"context"

	"github.com/google/uuid"

	"github.com/floroz/auction-client/internal/domain/auctions"
)

// RoutingKeyCreateAuction is the event type create-auction commands are sent under
const RoutingKeyCreateAuction = "auction.create"

// CommandPublisher queues commands for delivery over the event channel
type CommandPublisher interface {
	Enqueue(ctx context.Context, eventType string, payload []byte) (uuid.UUID, error)
}

// Prefetcher refreshes a single record before a buy-now
type Prefetcher interface {
	FetchOne(ctx context.Context, id int64) (*auctions.Auction, error)
	ApplyOne(a auctions.Auction) bool
}

// Hooks report state changes made by the coordinator.
// They run without the lock held.
type Hooks struct {
	// OnActionStarted runs once the speculative state is visible, before the
	// backend call starts.
	OnActionStarted  func(a *Action)
	OnAuctionChanged func(auctionID int64)
	OnActionFailed   func(a *Action, err error)
}
