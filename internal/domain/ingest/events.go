package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/floroz/auction-client/internal/domain/auctions"
)

// Kind is the type of a stream event
type Kind string

const (
	KindAuctionCreated     Kind = "auction.created"
	KindAuctionUpdated     Kind = "auction.updated"
	KindAuctionClosed      Kind = "auction.closed"
	KindTransactionCreated Kind = "transaction.created"
)

// aliases maps the push-channel event names onto stream kinds
var aliases = map[string]Kind{
	"NEW_AUCTION":         KindAuctionCreated,
	"AUCTION_UPDATED":     KindAuctionUpdated,
	"AUCTION_CLOSED":      KindAuctionClosed,
	"TRANSACTION_CREATED": KindTransactionCreated,
}

var (
	ErrUnknownKind    = errors.New("unknown event kind")
	ErrMissingPayload = errors.New("event payload missing")
	ErrMissingID      = errors.New("event payload has no auction id")
)

// ParseKind resolves a routing key or push-channel event name
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.TrimSpace(s)); k {
	case KindAuctionCreated, KindAuctionUpdated, KindAuctionClosed, KindTransactionCreated:
		return k, nil
	}
	if k, ok := aliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// CarriesFullRecord reports whether events of this kind hold a complete auction
func (k Kind) CarriesFullRecord() bool {
	return k == KindAuctionCreated || k == KindAuctionClosed || k == KindTransactionCreated
}

// Event is a decoded stream message.
// Full-record kinds set Auction; auction.updated sets Patch.
type Event struct {
	// ID is the envelope id when the transport carries one, uuid.Nil otherwise
	ID      uuid.UUID
	Kind    Kind
	Auction *auctions.Auction
	Patch   *auctions.PartialAuction
}

// AuctionID returns the id of the auction the event is about
func (e Event) AuctionID() int64 {
	switch {
	case e.Auction != nil:
		return e.Auction.ID
	case e.Patch != nil:
		return e.Patch.ID
	default:
		return 0
	}
}

// Validate checks that the event has the payload its kind requires
func (e Event) Validate() error {
	switch e.Kind {
	case KindAuctionCreated, KindAuctionClosed, KindTransactionCreated:
		if e.Auction == nil {
			return fmt.Errorf("%w for %s", ErrMissingPayload, e.Kind)
		}
	case KindAuctionUpdated:
		if e.Patch == nil {
			return fmt.Errorf("%w for %s", ErrMissingPayload, e.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.AuctionID() <= 0 {
		return ErrMissingID
	}
	return nil
}
