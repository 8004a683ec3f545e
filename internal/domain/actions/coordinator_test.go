package actions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floroz/auction-client/internal/domain/auctions"
)

const currentUser int64 = 1

// MockActionService is a mock implementation of auctions.ActionService
type MockActionService struct {
	mock.Mock
}

func (m *MockActionService) PlaceBid(ctx context.Context, auctionID int64, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, auctionID, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockActionService) BuyNow(ctx context.Context, auctionID int64) (bool, error) {
	args := m.Called(ctx, auctionID)
	return args.Bool(0), args.Error(1)
}

// MockPrefetcher is a mock implementation of Prefetcher
type MockPrefetcher struct {
	mock.Mock
}

func (m *MockPrefetcher) FetchOne(ctx context.Context, id int64) (*auctions.Auction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auctions.Auction), args.Error(1)
}

func (m *MockPrefetcher) ApplyOne(a auctions.Auction) bool {
	args := m.Called(a)
	return args.Bool(0)
}

// MockCommandPublisher is a mock implementation of CommandPublisher
type MockCommandPublisher struct {
	mock.Mock
}

func (m *MockCommandPublisher) Enqueue(ctx context.Context, eventType string, payload []byte) (uuid.UUID, error) {
	args := m.Called(ctx, eventType, payload)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func price(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func ptr[T any](v T) *T {
	return &v
}

func openAuction(id int64) auctions.Auction {
	created := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	return auctions.Auction{
		ID:            id,
		Title:         "Ancient Sword",
		StartingPrice: price(100),
		CurrentPrice:  price(100),
		BuyNowPrice:   ptr(price(500)),
		Status:        auctions.StatusOpen,
		CreatedAt:     created,
		EndsAt:        created.Add(24 * time.Hour),
		Item:          auctions.Item{ID: 10, OwnerID: 2, Name: "Ancient Sword"},
	}
}

type fixture struct {
	mu        *sync.Mutex
	store     *auctions.Store
	service   *MockActionService
	prefetch  *MockPrefetcher
	publisher *MockCommandPublisher
	coord     *Coordinator

	failedMu sync.Mutex
	failed   []error
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		mu:        &sync.Mutex{},
		store:     auctions.NewStore(),
		service:   new(MockActionService),
		prefetch:  new(MockPrefetcher),
		publisher: new(MockCommandPublisher),
	}
	cfg.UserID = currentUser
	hooks := Hooks{
		OnActionFailed: func(_ *Action, err error) {
			f.failedMu.Lock()
			f.failed = append(f.failed, err)
			f.failedMu.Unlock()
		},
	}
	f.coord = NewCoordinator(f.mu, f.store, f.service, f.prefetch, f.publisher, cfg, hooks, nil, nil)

	a := openAuction(1)
	f.store.Upsert(a)
	f.store.Index(1)
	return f
}

func (f *fixture) get(id int64) auctions.Auction {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, _ := f.store.Get(id)
	return a
}

func (f *fixture) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func wait(t *testing.T, a *Action) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestCoordinator_SubmitBid_AppliesSpeculativePatch(t *testing.T) {
	f := newFixture(Config{})
	release := make(chan struct{})
	f.service.On("PlaceBid", mock.Anything, int64(1), price(150)).
		Run(func(mock.Arguments) { <-release }).
		Return(true, nil)

	action, err := f.coord.SubmitBid(context.Background(), 1, price(150))
	require.NoError(t, err)

	got := f.get(1)
	assert.True(t, got.CurrentPrice.Equal(price(150)))
	require.Len(t, got.Bids, 1)
	assert.True(t, got.Bids[0].Provisional)
	assert.Less(t, got.Bids[0].ID, int64(0))
	assert.Equal(t, currentUser, got.Bids[0].UserID)
	assert.Equal(t, 1, got.BidsCount)
	assert.Equal(t, currentUser, *got.HighestBidderID)
	assert.Equal(t, 1, f.coord.Pending(1))

	close(release)
	assert.NoError(t, wait(t, action))
	assert.Equal(t, 0, f.coord.Pending(1))
	assert.True(t, f.get(1).CurrentPrice.Equal(price(150)), "success leaves the guess for the stream to replace")
	f.service.AssertExpectations(t)
}

func TestCoordinator_SubmitBid_RollbackOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		ok      bool
		callErr error
		wantIs  error
	}{
		{"transport error", false, errors.New("connection reset"), nil},
		{"rejected by server", false, nil, ErrActionRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			before := f.get(1)
			f.service.On("PlaceBid", mock.Anything, int64(1), price(150)).Return(tt.ok, tt.callErr)

			action, err := f.coord.SubmitBid(context.Background(), 1, price(150))
			require.NoError(t, err)

			err = wait(t, action)
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, OpPlaceBid, reqErr.Op)
			assert.Equal(t, int64(1), reqErr.AuctionID)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			} else {
				assert.ErrorIs(t, err, tt.callErr)
			}

			after := f.get(1)
			assert.Equal(t, before, after)
			assert.True(t, after.CurrentPrice.Equal(price(100)))
			assert.Empty(t, after.Bids)
			assert.Equal(t, 0, f.coord.Pending(1))

			f.failedMu.Lock()
			assert.Len(t, f.failed, 1)
			f.failedMu.Unlock()
		})
	}
}

func TestCoordinator_SubmitBid_StartedHookPrecedesFailure(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	storeMu := &sync.Mutex{}
	store := auctions.NewStore()
	store.Upsert(openAuction(1))
	store.Index(1)
	service := new(MockActionService)
	service.On("PlaceBid", mock.Anything, int64(1), price(150)).Return(false, errors.New("connection reset"))

	coord := NewCoordinator(storeMu, store, service, nil, nil, Config{UserID: currentUser}, Hooks{
		OnActionStarted:  func(*Action) { record("started") },
		OnAuctionChanged: func(int64) { record("changed") },
		OnActionFailed:   func(*Action, error) { record("failed") },
	}, nil, nil)

	action, err := coord.SubmitBid(context.Background(), 1, price(150))
	require.NoError(t, err)
	require.Error(t, wait(t, action))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"started", "changed", "failed"}, events)
}

func TestCoordinator_Rollback_AfterUnrelatedPatch(t *testing.T) {
	f := newFixture(Config{})
	release := make(chan struct{})
	f.service.On("PlaceBid", mock.Anything, int64(1), price(150)).
		Run(func(mock.Arguments) { <-release }).
		Return(false, errors.New("timeout"))

	action, err := f.coord.SubmitBid(context.Background(), 1, price(150))
	require.NoError(t, err)

	f.locked(func() {
		f.store.Patch(auctions.PartialAuction{ID: 1, Title: ptr("Ancient Sword +1")})
	})
	close(release)
	require.Error(t, wait(t, action))

	got := f.get(1)
	assert.Equal(t, "Ancient Sword +1", got.Title, "authoritative field survives")
	assert.Empty(t, got.Bids)
	assert.Equal(t, 0, got.BidsCount)
	assert.True(t, got.CurrentPrice.Equal(price(100)))
}

func TestCoordinator_Rollback_SupersededByAuthoritativeUpdate(t *testing.T) {
	f := newFixture(Config{})
	release := make(chan struct{})
	f.service.On("PlaceBid", mock.Anything, int64(1), price(150)).
		Run(func(mock.Arguments) { <-release }).
		Return(false, errors.New("late failure"))

	action, err := f.coord.SubmitBid(context.Background(), 1, price(150))
	require.NoError(t, err)

	f.locked(func() {
		f.store.Patch(auctions.PartialAuction{
			ID:           1,
			CurrentPrice: ptr(price(150)),
			Bids:         []auctions.Bid{{ID: 31, UserID: currentUser, Amount: price(150)}},
			BidsCount:    ptr(1),
		})
	})
	authoritative := f.get(1)

	close(release)
	require.Error(t, wait(t, action))

	assert.Equal(t, authoritative, f.get(1), "nothing speculative left to undo")
}

func TestCoordinator_Rollback_StackedBids(t *testing.T) {
	f := newFixture(Config{})
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	f.service.On("PlaceBid", mock.Anything, int64(1), price(150)).
		Run(func(mock.Arguments) { <-releaseA }).
		Return(false, errors.New("a failed"))
	f.service.On("PlaceBid", mock.Anything, int64(1), price(160)).
		Run(func(mock.Arguments) { <-releaseB }).
		Return(false, errors.New("b failed"))

	a, err := f.coord.SubmitBid(context.Background(), 1, price(150))
	require.NoError(t, err)
	b, err := f.coord.SubmitBid(context.Background(), 1, price(160))
	require.NoError(t, err)
	assert.Equal(t, 2, f.coord.Pending(1))
	assert.Equal(t, 2, f.get(1).BidsCount)

	close(releaseA)
	require.Error(t, wait(t, a))
	mid := f.get(1)
	require.Len(t, mid.Bids, 1)
	assert.True(t, mid.CurrentPrice.Equal(price(160)))

	close(releaseB)
	require.Error(t, wait(t, b))
	got := f.get(1)
	assert.Empty(t, got.Bids)
	assert.Equal(t, 0, got.BidsCount)
	assert.True(t, got.CurrentPrice.Equal(price(100)))
	assert.Nil(t, got.HighestBid)
}

func TestCoordinator_SubmitBid_Validation(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		auctionID int64
		amount    decimal.Decimal
		wantErr   error
	}{
		{"unknown auction", nil, 99, price(150), ErrAuctionNotFound},
		{"zero amount", nil, 1, decimal.Zero, ErrInvalidBidAmount},
		{"negative amount", nil, 1, price(-5), ErrInvalidBidAmount},
		{
			name:      "evicted auction",
			setup:     func(f *fixture) { f.store.Evict(1) },
			auctionID: 1,
			amount:    price(150),
			wantErr:   ErrAuctionNotOpen,
		},
		{
			name: "sold auction",
			setup: func(f *fixture) {
				f.store.Patch(auctions.PartialAuction{ID: 1, Status: ptr(auctions.StatusSold)})
			},
			auctionID: 1,
			amount:    price(150),
			wantErr:   ErrAuctionNotOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			if tt.setup != nil {
				tt.setup(f)
			}
			before := f.get(1)

			action, err := f.coord.SubmitBid(context.Background(), tt.auctionID, tt.amount)

			assert.Nil(t, action)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, f.get(1))
			f.service.AssertNotCalled(t, "PlaceBid", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCoordinator_SubmitBuyNow(t *testing.T) {
	t.Run("prefetches then buys", func(t *testing.T) {
		f := newFixture(Config{PrefetchBuyNow: true})
		latest := openAuction(1)
		latest.CurrentPrice = price(300)
		f.prefetch.On("FetchOne", mock.Anything, int64(1)).Return(&latest, nil)
		f.prefetch.On("ApplyOne", latest).Return(true)
		f.service.On("BuyNow", mock.Anything, int64(1)).Return(true, nil)

		action, err := f.coord.SubmitBuyNow(context.Background(), 1)
		require.NoError(t, err)
		assert.NoError(t, wait(t, action))

		f.prefetch.AssertExpectations(t)
		f.service.AssertExpectations(t)
	})

	t.Run("prefetch failure does not block the buy", func(t *testing.T) {
		f := newFixture(Config{PrefetchBuyNow: true})
		f.prefetch.On("FetchOne", mock.Anything, int64(1)).Return(nil, errors.New("503"))
		f.service.On("BuyNow", mock.Anything, int64(1)).Return(true, nil)

		action, err := f.coord.SubmitBuyNow(context.Background(), 1)
		require.NoError(t, err)
		assert.NoError(t, wait(t, action))
		f.prefetch.AssertNotCalled(t, "ApplyOne", mock.Anything)
	})

	t.Run("failure surfaces a request error", func(t *testing.T) {
		f := newFixture(Config{})
		before := f.get(1)
		f.service.On("BuyNow", mock.Anything, int64(1)).Return(false, nil)

		action, err := f.coord.SubmitBuyNow(context.Background(), 1)
		require.NoError(t, err)

		err = wait(t, action)
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, OpBuyNow, reqErr.Op)
		assert.ErrorIs(t, err, ErrActionRejected)
		assert.Equal(t, before, f.get(1))
		f.prefetch.AssertNotCalled(t, "FetchOne", mock.Anything, mock.Anything)
	})

	t.Run("no buy now price", func(t *testing.T) {
		f := newFixture(Config{})
		a := openAuction(2)
		a.BuyNowPrice = nil
		f.store.Upsert(a)

		_, err := f.coord.SubmitBuyNow(context.Background(), 2)
		assert.ErrorIs(t, err, ErrBuyNowUnavailable)
	})

	t.Run("closed auction", func(t *testing.T) {
		f := newFixture(Config{})
		f.store.Evict(1)

		_, err := f.coord.SubmitBuyNow(context.Background(), 1)
		assert.ErrorIs(t, err, ErrAuctionNotOpen)
	})
}

func TestCoordinator_SubmitCreateAuction(t *testing.T) {
	tests := []struct {
		name    string
		cmd     CreateAuctionCommand
		wantErr error
	}{
		{
			name: "valid command",
			cmd:  CreateAuctionCommand{ItemID: 20, StartingPrice: price(50), BuyNowPrice: ptr(price(200)), DurationHours: 24},
		},
		{
			name: "zero buy now price means none",
			cmd:  CreateAuctionCommand{ItemID: 20, StartingPrice: price(50), BuyNowPrice: ptr(decimal.Zero), DurationHours: 24},
		},
		{
			name:    "missing item",
			cmd:     CreateAuctionCommand{StartingPrice: price(50), DurationHours: 24},
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "non-positive starting price",
			cmd:     CreateAuctionCommand{ItemID: 20, StartingPrice: decimal.Zero, DurationHours: 24},
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "no duration",
			cmd:     CreateAuctionCommand{ItemID: 20, StartingPrice: price(50)},
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "buy now below starting price",
			cmd:     CreateAuctionCommand{ItemID: 20, StartingPrice: price(50), BuyNowPrice: ptr(price(40)), DurationHours: 24},
			wantErr: ErrBuyNowBelowStart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Config{})
			outboxID := uuid.New()
			f.publisher.On("Enqueue", mock.Anything, RoutingKeyCreateAuction, mock.Anything).Return(outboxID, nil).Maybe()

			id, err := f.coord.SubmitCreateAuction(context.Background(), tt.cmd)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, uuid.Nil, id)
				f.publisher.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything)
				return
			}

			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, id)
			assert.Equal(t, 1, f.store.Len(), "no local record is created")

			payload := f.publisher.Calls[0].Arguments.Get(2).([]byte)
			var sent map[string]any
			require.NoError(t, json.Unmarshal(payload, &sent))
			assert.Equal(t, float64(currentUser), sent["userId"])
			assert.Equal(t, float64(20), sent["itemId"])
			assert.Equal(t, id.String(), sent["commandId"])
		})
	}
}

func TestCoordinator_SubmitCreateAuction_QueueFailure(t *testing.T) {
	f := newFixture(Config{})
	f.publisher.On("Enqueue", mock.Anything, RoutingKeyCreateAuction, mock.Anything).Return(uuid.Nil, errors.New("outbox full"))

	_, err := f.coord.SubmitCreateAuction(context.Background(), CreateAuctionCommand{ItemID: 20, StartingPrice: price(50), DurationHours: 24})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, OpCreateAuction, reqErr.Op)
}
