package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"copyauction/internal/config"
)

type webhookReceiver struct {
	mu      sync.Mutex
	types   []string
	secrets []string
}

func (r *webhookReceiver) handler(w http.ResponseWriter, req *http.Request) {
	var evt webhookEvent
	if err := json.NewDecoder(req.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.types = append(r.types, evt.Type)
	r.secrets = append(r.secrets, req.Header.Get("X-Auction-Secret"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *webhookReceiver) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	all := &webhookReceiver{}
	allSrv := httptest.NewServer(http.HandlerFunc(all.handler))
	defer allSrv.Close()
	bids := &webhookReceiver{}
	bidSrv := httptest.NewServer(http.HandlerFunc(bids.handler))
	defer bidSrv.Close()

	disabled := false
	d := NewWebhookDispatcher(ts.Engine, []config.Webhook{
		{URL: allSrv.URL, Secret: "s3cret"},
		{URL: bidSrv.URL, Events: []string{"bid.placed"}},
		{URL: allSrv.URL, Enabled: &disabled},
	})
	d.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()

	// first pass pins every cursor at the current head
	d.DispatchOnce(ctx)
	if got := all.received(); len(got) != 0 {
		t.Fatalf("expected nothing before any auction, got %v", got)
	}

	startAuction(t, ts)
	res, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/auctions/1/bids", map[string]any{"amount": "150"}, bearer(t, "bob@example.com"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bid: %d %s", res.StatusCode, string(body))
	}

	d.DispatchOnce(ctx)
	got := all.received()
	if len(got) != 2 || got[0] != "auction.started" || got[1] != "bid.placed" {
		t.Fatalf("unexpected deliveries to catch-all hook: %v", got)
	}
	for _, s := range all.secrets {
		if s != "s3cret" {
			t.Fatalf("expected secret header, got %q", s)
		}
	}
	if got := bids.received(); len(got) != 1 || got[0] != "bid.placed" {
		t.Fatalf("unexpected deliveries to filtered hook: %v", got)
	}

	// nothing new, nothing resent
	d.DispatchOnce(ctx)
	if got := all.received(); len(got) != 2 {
		t.Fatalf("events were redelivered: %v", got)
	}
}

func TestWebhookDispatcherRetriesFailedDelivery(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	var mu sync.Mutex
	fail := true
	var delivered []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		delivered = append(delivered, evt.Type)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(ts.Engine, []config.Webhook{{URL: srv.URL}})
	d.Logger = log.New(io.Discard, "", 0)
	ctx := context.Background()
	d.DispatchOnce(ctx)

	startAuction(t, ts)
	d.DispatchOnce(ctx)

	mu.Lock()
	fail = false
	mu.Unlock()
	d.DispatchOnce(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != "auction.started" {
		t.Fatalf("expected the failed event to be retried once, got %v", delivered)
	}
}
