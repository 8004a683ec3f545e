package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/floroz/auction-client/internal/domain/auctions"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// StatusError carries the HTTP status and the backend's error message
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.StatusCode)
	}
	return fmt.Sprintf("%s: %d %s", ErrUnexpectedStatus, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client talks to the auction REST backend and the inventory service.
// It implements the auctions backend ports.
type Client struct {
	baseURL      string
	inventoryURL string
	token        string
	http         *http.Client
	logger       *slog.Logger
}

// NewClient creates a client. inventoryURL is the base of the items
// service; an empty value means it is served under baseURL.
func NewClient(baseURL, inventoryURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if inventoryURL == "" {
		inventoryURL = baseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      baseURL,
		inventoryURL: inventoryURL,
		token:        token,
		http:         &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type listEnvelope struct {
	Data []auctions.Auction `json:"data"`
}

type itemEnvelope struct {
	Data *auctions.Auction `json:"data"`
}

type successEnvelope struct {
	Success bool `json:"success"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// ListAuctions returns every auction the backend knows
func (c *Client) ListAuctions(ctx context.Context) ([]auctions.Auction, error) {
	var env listEnvelope
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/auctions", nil, &env); err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return env.Data, nil
}

// GetAuction returns one auction, or nil when the backend does not have it
func (c *Client) GetAuction(ctx context.Context, id int64) (*auctions.Auction, error) {
	var env itemEnvelope
	err := c.do(ctx, http.MethodGet, c.baseURL+"/auctions/"+strconv.FormatInt(id, 10), nil, &env)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction %d: %w", id, err)
	}
	return env.Data, nil
}

// ListItems returns the inventory of a user
func (c *Client) ListItems(ctx context.Context, ownerID int64) ([]auctions.Item, error) {
	q := url.Values{"userId": {strconv.FormatInt(ownerID, 10)}}
	var items []auctions.Item
	if err := c.do(ctx, http.MethodGet, c.inventoryURL+"/items?"+q.Encode(), nil, &items); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// PlaceBid submits a bid
func (c *Client) PlaceBid(ctx context.Context, auctionID int64, amount decimal.Decimal) (bool, error) {
	body := struct {
		Amount json.Number `json:"amount"`
	}{Amount: json.Number(amount.String())}

	var env successEnvelope
	path := fmt.Sprintf("%s/auctions/%d/bid", c.baseURL, auctionID)
	if err := c.do(ctx, http.MethodPost, path, body, &env); err != nil {
		return false, fmt.Errorf("failed to place bid: %w", err)
	}
	return env.Success, nil
}

// BuyNow buys an auction at its buy now price
func (c *Client) BuyNow(ctx context.Context, auctionID int64) (bool, error) {
	var env successEnvelope
	path := fmt.Sprintf("%s/auctions/%d/buy", c.baseURL, auctionID)
	if err := c.do(ctx, http.MethodPost, path, nil, &env); err != nil {
		return false, fmt.Errorf("failed to buy now: %w", err)
	}
	return env.Success, nil
}

// Purchased returns the auctions won by the user
func (c *Client) Purchased(ctx context.Context, userID int64) ([]auctions.Auction, error) {
	var env listEnvelope
	path := fmt.Sprintf("%s/auctions/history/purchased/%d", c.baseURL, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, fmt.Errorf("failed to get purchased auctions: %w", err)
	}
	return env.Data, nil
}

// Sold returns the user's auctions that sold
func (c *Client) Sold(ctx context.Context, userID int64) ([]auctions.Auction, error) {
	var env listEnvelope
	path := fmt.Sprintf("%s/auctions/history/sold/%d", c.baseURL, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, fmt.Errorf("failed to get sold auctions: %w", err)
	}
	return env.Data, nil
}

// Username resolves a user id to its display name
func (c *Client) Username(ctx context.Context, userID int64) (string, error) {
	var user struct {
		Username string `json:"username"`
	}
	path := fmt.Sprintf("%s/users/%d", c.baseURL, userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &user); err != nil {
		return "", fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return user.Username, nil
}

func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error != "" {
			statusErr.Message = env.Error
		} else {
			statusErr.Message = string(bytes.TrimSpace(raw))
		}
		c.logger.Debug("Backend returned error", "method", method, "url", target, "status", resp.StatusCode)
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
