package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/auction-client/internal/domain/auctions"
	"github.com/floroz/auction-client/pkg/metrics"
)

// Config tunes the coordinator
type Config struct {
	UserID int64
	// PrefetchBuyNow refreshes the record from the backend before buying
	PrefetchBuyNow bool
	// CallTimeout bounds each backend call; zero means no extra bound
	CallTimeout time.Duration
}

// pendingBid is a speculative bid awaiting the backend's answer
type pendingBid struct {
	action    *Action
	bidID     int64
	amount    decimal.Decimal
	raised    bool
	prev      auctions.Auction
	rev       uint64
	prevPrice decimal.Decimal
}

// Coordinator gives immediate feedback for bids by patching the store
// speculatively, then confirms or rolls back once the backend answers.
//
// The store is shared with the rest of the client; every access goes
// through mu, which the owner of the store also holds for its own writes.
type Coordinator struct {
	mu        sync.Locker
	store     *auctions.Store
	service   auctions.ActionService
	prefetch  Prefetcher
	publisher CommandPublisher
	hooks     Hooks
	cfg       Config
	metrics   metrics.Recorder
	logger    *slog.Logger

	nextBidID int64
	pending   map[int64][]*pendingBid
	inflight  sync.WaitGroup
}

// NewCoordinator creates a coordinator. prefetch may be nil.
func NewCoordinator(
	mu sync.Locker,
	store *auctions.Store,
	service auctions.ActionService,
	prefetch Prefetcher,
	publisher CommandPublisher,
	cfg Config,
	hooks Hooks,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Coordinator {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		mu:        mu,
		store:     store,
		service:   service,
		prefetch:  prefetch,
		publisher: publisher,
		hooks:     hooks,
		cfg:       cfg,
		metrics:   recorder,
		logger:    logger,
		pending:   make(map[int64][]*pendingBid),
	}
}

// SubmitBid applies a provisional bid right away and places the real bid in
// the background. The returned action completes when the backend answered;
// on failure the speculative patch has been undone by then.
func (c *Coordinator) SubmitBid(ctx context.Context, auctionID int64, amount decimal.Decimal) (*Action, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidBidAmount
	}

	c.mu.Lock()
	rec, ok := c.store.Get(auctionID)
	if !ok {
		c.mu.Unlock()
		return nil, ErrAuctionNotFound
	}
	if c.store.IsTerminal(auctionID) {
		c.mu.Unlock()
		return nil, ErrAuctionNotOpen
	}

	action := newAction(OpPlaceBid, auctionID)
	c.nextBidID--
	pb := &pendingBid{
		action:    action,
		bidID:     c.nextBidID,
		amount:    amount,
		prev:      rec,
		prevPrice: rec.CurrentPrice,
	}

	patch := auctions.PartialAuction{
		ID: auctionID,
		Bids: []auctions.Bid{{
			ID:          pb.bidID,
			AuctionID:   auctionID,
			UserID:      c.cfg.UserID,
			Amount:      amount,
			Timestamp:   action.StartedAt,
			Provisional: true,
		}},
	}
	if amount.GreaterThan(rec.CurrentPrice) {
		patch.CurrentPrice = &amount
		pb.raised = true
	}
	c.store.PatchSpeculative(patch)
	pb.rev = c.store.Revision(auctionID)
	c.pending[auctionID] = append(c.pending[auctionID], pb)
	c.mu.Unlock()

	c.logger.Debug("Speculative bid applied", "auction_id", auctionID, "amount", amount.String(), "action_id", action.ID)
	if c.hooks.OnActionStarted != nil {
		c.hooks.OnActionStarted(action)
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.placeBid(ctx, pb)
	}()
	return action, nil
}

func (c *Coordinator) placeBid(ctx context.Context, pb *pendingBid) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	auctionID := pb.action.AuctionID
	ok, err := c.service.PlaceBid(ctx, auctionID, pb.amount)
	if err == nil && ok {
		c.mu.Lock()
		c.forget(pb)
		c.mu.Unlock()
		pb.action.finish(nil)
		return
	}
	if err == nil {
		err = ErrActionRejected
	}

	c.mu.Lock()
	c.rollback(pb)
	c.mu.Unlock()

	reqErr := &RequestError{Op: OpPlaceBid, AuctionID: auctionID, Err: err}
	c.logger.Warn("Bid failed, speculative patch rolled back", "auction_id", auctionID, "action_id", pb.action.ID, "error", err)
	c.metrics.Incr(metrics.ActionsRollback, "op", string(OpPlaceBid))

	if c.hooks.OnAuctionChanged != nil {
		c.hooks.OnAuctionChanged(auctionID)
	}
	if c.hooks.OnActionFailed != nil {
		c.hooks.OnActionFailed(pb.action, reqErr)
	}
	pb.action.finish(reqErr)
}

// rollback undoes a failed speculative bid. Must be called with mu held.
//
// If nothing touched the record since the speculation, the earlier state is
// restored exactly. Otherwise only the provisional bid is removed and a
// price it raised is reset. If an authoritative patch already replaced the
// provisional bid there is nothing left to undo.
func (c *Coordinator) rollback(pb *pendingBid) {
	auctionID := pb.action.AuctionID
	defer c.forget(pb)

	// bids placed after this one captured the price it set
	if pb.raised {
		after := false
		for _, other := range c.pending[auctionID] {
			if other == pb {
				after = true
				continue
			}
			if after && other.prevPrice.Equal(pb.amount) {
				other.prevPrice = pb.prevPrice
			}
		}
	}

	if c.store.Restore(pb.prev, pb.rev) {
		return
	}
	if !c.store.StripProvisional(auctionID, pb.bidID) {
		return
	}
	if !pb.raised {
		return
	}

	rec, _ := c.store.Get(auctionID)
	if !rec.CurrentPrice.Equal(pb.amount) {
		return
	}
	price := pb.prevPrice
	for _, b := range rec.Bids {
		if b.Amount.GreaterThan(price) {
			price = b.Amount
		}
	}
	c.store.PatchSpeculative(auctions.PartialAuction{ID: auctionID, CurrentPrice: &price})
}

// forget drops the pending entry. Must be called with mu held.
func (c *Coordinator) forget(pb *pendingBid) {
	list := c.pending[pb.action.AuctionID]
	for i, p := range list {
		if p == pb {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.pending, pb.action.AuctionID)
		return
	}
	c.pending[pb.action.AuctionID] = list
}

// Pending returns the number of speculative bids awaiting an answer
func (c *Coordinator) Pending(auctionID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[auctionID])
}

// SubmitBuyNow buys the auction at its buy now price. Nothing is applied
// speculatively; the closed and transaction events settle the record.
func (c *Coordinator) SubmitBuyNow(ctx context.Context, auctionID int64) (*Action, error) {
	c.mu.Lock()
	rec, ok := c.store.Get(auctionID)
	terminal := c.store.IsTerminal(auctionID)
	c.mu.Unlock()

	switch {
	case !ok:
		return nil, ErrAuctionNotFound
	case terminal:
		return nil, ErrAuctionNotOpen
	case rec.BuyNowPrice == nil || !rec.BuyNowPrice.IsPositive():
		return nil, ErrBuyNowUnavailable
	}

	action := newAction(OpBuyNow, auctionID)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.buyNow(ctx, action)
	}()
	return action, nil
}

func (c *Coordinator) buyNow(ctx context.Context, action *Action) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	auctionID := action.AuctionID
	if c.cfg.PrefetchBuyNow && c.prefetch != nil {
		c.refresh(ctx, auctionID)
	}

	ok, err := c.service.BuyNow(ctx, auctionID)
	if err == nil && ok {
		c.logger.Info("Buy now accepted", "auction_id", auctionID, "action_id", action.ID)
		action.finish(nil)
		return
	}
	if err == nil {
		err = ErrActionRejected
	}

	reqErr := &RequestError{Op: OpBuyNow, AuctionID: auctionID, Err: err}
	c.logger.Warn("Buy now failed", "auction_id", auctionID, "action_id", action.ID, "error", err)
	if c.hooks.OnActionFailed != nil {
		c.hooks.OnActionFailed(action, reqErr)
	}
	action.finish(reqErr)
}

// refresh applies the latest backend record. Failures are logged only:
// the buy itself does not depend on it.
func (c *Coordinator) refresh(ctx context.Context, auctionID int64) {
	latest, err := c.prefetch.FetchOne(ctx, auctionID)
	if err != nil {
		c.logger.Warn("Failed to refresh auction before buy now", "auction_id", auctionID, "error", err)
		return
	}
	if latest == nil {
		return
	}

	c.mu.Lock()
	applied := c.prefetch.ApplyOne(*latest)
	c.mu.Unlock()

	if applied && c.hooks.OnAuctionChanged != nil {
		c.hooks.OnAuctionChanged(auctionID)
	}
}

// SubmitCreateAuction validates the command and queues it on the event
// channel. No local record is created: the auction appears when its
// created event arrives.
func (c *Coordinator) SubmitCreateAuction(ctx context.Context, cmd CreateAuctionCommand) (uuid.UUID, error) {
	if c.publisher == nil {
		return uuid.Nil, &RequestError{Op: OpCreateAuction, Err: ErrNoCommandChannel}
	}
	if cmd.UserID == 0 {
		cmd.UserID = c.cfg.UserID
	}
	if err := cmd.Validate(); err != nil {
		return uuid.Nil, err
	}
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	id, err := c.publisher.Enqueue(ctx, RoutingKeyCreateAuction, payload)
	if err != nil {
		return uuid.Nil, &RequestError{Op: OpCreateAuction, Err: fmt.Errorf("failed to queue command: %w", err)}
	}

	c.logger.Info("Create auction queued", "command_id", cmd.ID, "outbox_id", id, "item_id", cmd.ItemID)
	return cmd.ID, nil
}

// Wait blocks until every in-flight backend call returned
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

func (c *Coordinator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}
