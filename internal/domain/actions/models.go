package actions

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Op names a user-initiated action
type Op string

const (
	OpPlaceBid      Op = "place_bid"
	OpBuyNow        Op = "buy_now"
	OpCreateAuction Op = "create_auction"
)

// Local validation errors
var (
	ErrAuctionNotFound   = fmt.Errorf("auction not found")
	ErrAuctionNotOpen    = fmt.Errorf("auction is not open")
	ErrInvalidBidAmount  = fmt.Errorf("bid amount must be positive")
	ErrBuyNowUnavailable = fmt.Errorf("auction has no buy now price")
	ErrInvalidCommand    = fmt.Errorf("invalid create auction command")
	ErrBuyNowBelowStart  = fmt.Errorf("buy now price must be higher than starting price")
	ErrActionRejected    = fmt.Errorf("action rejected by the server")
	ErrNoCommandChannel  = fmt.Errorf("no command channel configured")
)

// RequestError is returned when a backend call for an action fails.
// Err is either the transport error or ErrActionRejected.
type RequestError struct {
	Op        Op
	AuctionID int64
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s on auction %d failed: %v", e.Op, e.AuctionID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Action is a handle on an in-flight backend call
type Action struct {
	ID        uuid.UUID
	Op        Op
	AuctionID int64
	StartedAt time.Time

	once sync.Once
	done chan struct{}
	err  error
}

func newAction(op Op, auctionID int64) *Action {
	return &Action{
		ID:        uuid.New(),
		Op:        op,
		AuctionID: auctionID,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the backend call finished and any rollback was applied
func (a *Action) Done() <-chan struct{} {
	return a.done
}

// Err returns the outcome. It is only meaningful after Done is closed.
func (a *Action) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait blocks until the action finished or ctx is done
func (a *Action) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Action) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// CreateAuctionCommand asks the backend to open an auction for an item
type CreateAuctionCommand struct {
	ID            uuid.UUID        `json:"commandId"`
	UserID        int64            `json:"userId" validate:"gt=0"`
	ItemID        int64            `json:"itemId" validate:"gt=0"`
	StartingPrice decimal.Decimal  `json:"startingPrice" validate:"gt=0"`
	BuyNowPrice   *decimal.Decimal `json:"buyNowPrice,omitempty"`
	DurationHours int              `json:"durationHours" validate:"gt=0,lte=720"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Validate checks the command before it is queued.
// A zero buy now price means none was offered.
func (c *CreateAuctionCommand) Validate() error {
	if c.BuyNowPrice != nil && c.BuyNowPrice.IsZero() {
		c.BuyNowPrice = nil
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if c.BuyNowPrice != nil && !c.BuyNowPrice.GreaterThan(c.StartingPrice) {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, ErrBuyNowBelowStart)
	}
	return nil
}
