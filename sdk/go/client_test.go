package copyauctionsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestPlaceBidSendsBearerAndAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/v0/auctions/3/bids", r.URL.Path)
		check.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		check.Equal(t, "150", body["amount"])
		_, _ = w.Write([]byte(`{"auction_id":3,"work_id":9,"current_price":"150","status":"active"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	a, err := c.PlaceBid(context.Background(), 3, "150")
	assert.NoError(t, err)
	check.Equal(t, int64(3), a.AuctionID)
	check.Equal(t, "150", a.CurrentPrice)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "bob@example.com", r.Header.Get("X-User-Email"))
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"bid_too_low","message":"bid 90 must exceed current price 100"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.UserEmail = "bob@example.com"
	_, err := c.PlaceBid(context.Background(), 1, "90")
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	check.Equal(t, http.StatusConflict, apiErr.StatusCode)
	check.Equal(t, "bid_too_low", apiErr.Code)
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check.Equal(t, "/api/events", r.URL.Path)
		check.Equal(t, "5", r.URL.Query().Get("limit"))
		check.Equal(t, "12", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"id":11,"type":"bid.placed","entity_kind":"auction","entity_id":"1","payload":{}}],"next_cursor":"11"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BasePath = "/api"
	page, err := c.EventsPage(context.Background(), 5, "12")
	assert.NoError(t, err)
	check.Equal(t, 1, len(page.Items))
	check.Equal(t, "bid.placed", page.Items[0].Type)
	check.Equal(t, "11", page.NextCursor)
}
