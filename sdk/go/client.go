package copyauctionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal copyright auction HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// UserEmail is sent as X-User-Email when the server accepts the legacy header.
	UserEmail  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Auction is the projected auction row. Amounts are decimal strings.
type Auction struct {
	AuctionID       int64   `json:"auction_id"`
	WorkID          int64   `json:"work_id"`
	SellerID        int64   `json:"seller_id"`
	StartPrice      string  `json:"start_price"`
	CurrentPrice    string  `json:"current_price"`
	HighestBidderID *int64  `json:"highest_bidder_id,omitempty"`
	EndTime         string  `json:"end_time"`
	Status          string  `json:"status"`
	StartTxHash     string  `json:"start_tx_hash"`
	LastTxHash      string  `json:"last_tx_hash"`
	EndTxHash       *string `json:"end_tx_hash,omitempty"`
}

// AuctionSummary is one row of the active auction listing.
type AuctionSummary struct {
	AuctionID      int64  `json:"auction_id"`
	WorkID         int64  `json:"work_id"`
	Title          string `json:"title"`
	Category       string `json:"category,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	StartPrice     string `json:"start_price"`
	CurrentPrice   string `json:"current_price"`
	EndTime        string `json:"end_time"`
	SellerUsername string `json:"seller_username"`
}

type BidView struct {
	BidderID       int64  `json:"bidder_id"`
	BidderUsername string `json:"bidder_username,omitempty"`
	Amount         string `json:"amount"`
	TxHash         string `json:"tx_hash"`
	CreatedAt      string `json:"created_at"`
}

// AuctionDetail is the active auction of a work as seen by the caller.
type AuctionDetail struct {
	AuctionID       int64     `json:"auction_id"`
	WorkID          int64     `json:"work_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	ImageURL        string    `json:"image_url,omitempty"`
	CopyrightID     string    `json:"copyright_id,omitempty"`
	StartPrice      string    `json:"start_price"`
	CurrentPrice    string    `json:"current_price"`
	HighestBidderID *int64    `json:"highest_bidder_id,omitempty"`
	EndTime         string    `json:"end_time"`
	SellerUsername  string    `json:"seller_username"`
	IsOwner         bool      `json:"is_owner"`
	Bids            []BidView `json:"bids"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	TxHash     string         `json:"tx_hash,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartAuction puts a work up for auction.
func (c *Client) StartAuction(ctx context.Context, workID int64, startPrice string, durationSeconds int64) (Auction, error) {
	body := map[string]any{
		"work_id":          workID,
		"start_price":      startPrice,
		"duration_seconds": durationSeconds,
	}
	var resp Auction
	err := c.do(ctx, http.MethodPost, "auctions", body, &resp)
	return resp, err
}

// PlaceBid bids amount on an auction.
func (c *Client) PlaceBid(ctx context.Context, auctionID int64, amount string) (Auction, error) {
	var resp Auction
	endpoint := fmt.Sprintf("auctions/%d/bids", auctionID)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"amount": amount}, &resp)
	return resp, err
}

// EndAuction ends an auction and transfers the work to the winner.
func (c *Client) EndAuction(ctx context.Context, auctionID int64) (Auction, error) {
	var resp Auction
	endpoint := fmt.Sprintf("auctions/%d/end", auctionID)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// ActiveAuctions lists auctions that are still accepting bids.
func (c *Client) ActiveAuctions(ctx context.Context) ([]AuctionSummary, error) {
	var resp []AuctionSummary
	err := c.do(ctx, http.MethodGet, "auctions", nil, &resp)
	return resp, err
}

// WorkAuction returns the active auction of a work.
func (c *Client) WorkAuction(ctx context.Context, workID int64) (AuctionDetail, error) {
	var resp AuctionDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("works/%d/auction", workID), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserEmail != "":
		req.Header.Set("X-User-Email", c.UserEmail)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
