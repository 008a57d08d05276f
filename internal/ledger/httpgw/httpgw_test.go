package httpgw

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"copyauction/internal/ledger"
)

func newGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	gw, err := New(Config{URL: srv.URL, ContractAddress: "0xc0ffee"})
	assert.NoError(t, err)
	return gw
}

func decodeCall(t *testing.T, r *http.Request) callRequest {
	t.Helper()
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode call: %v", err)
	}
	return req
}

func TestPlaceBidReceipt(t *testing.T) {
	var got callRequest
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeCall(t, r)
		_, _ = w.Write([]byte(`{"transactionHash":"0xabc","status":"0x0","output":"0x","blockNumber":"0x1c","transactionIndex":2}`))
	})
	rec, err := gw.PlaceBid(context.Background(), ledger.CallOpts{From: "0xb0b"}, 7, big.NewInt(130))
	assert.NoError(t, err)
	check.True(t, rec.Success)
	check.Equal(t, "0xabc", rec.TxHash)
	check.Equal(t, uint64(28), rec.BlockNumber)
	check.Equal(t, uint64(2), rec.TxIndex)

	check.Equal(t, "placeBid", got.FuncName)
	check.Equal(t, "0xb0b", got.User)
	check.Equal(t, "1", got.GroupID)
	check.Equal(t, "0xc0ffee", got.ContractAddress)
	check.Equal(t, 2, len(got.FuncParam))
	check.Equal(t, any("7"), got.FuncParam[0])
	check.Equal(t, any("130"), got.FuncParam[1])
}

func TestRevertedReceipt(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transactionHash":"0xdef","status":"0x16","output":"0x08c379a0"}`))
	})
	rec, err := gw.EndAuction(context.Background(), ledger.CallOpts{From: "0xa11ce"}, 1)
	assert.NoError(t, err)
	check.False(t, rec.Success)
	check.Equal(t, "0x16", rec.Status)
}

func TestServerErrorIsUnknownOutcome(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusBadGateway)
	})
	_, err := gw.StartAuction(context.Background(), ledger.CallOpts{From: "0xa11ce"}, 1, big.NewInt(100), 60000)
	check.Error(t, err)
	check.True(t, errors.Is(err, ledger.ErrUnknownOutcome))
}

func TestFrontErrorIsRejection(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":201151,"errorMessage":"user does not exist"}`))
	})
	_, err := gw.PlaceBid(context.Background(), ledger.CallOpts{From: "0xb0b"}, 1, big.NewInt(5))
	check.Error(t, err)
	check.False(t, errors.Is(err, ledger.ErrUnknownOutcome))
}

func TestMissingSender(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := gw.PlaceBid(context.Background(), ledger.CallOpts{}, 1, big.NewInt(5))
	check.Error(t, err)
}

func TestAuctionCounter(t *testing.T) {
	var got callRequest
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeCall(t, r)
		_, _ = w.Write([]byte(`["12"]`))
	})
	n, err := gw.AuctionCounter(context.Background())
	assert.NoError(t, err)
	check.Equal(t, uint64(12), n)
	check.Equal(t, "auctionCounter", got.FuncName)
	check.Equal(t, "0xc0ffee", got.User)
}

func TestAuctionState(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["3","42","0xA11CE","100","150000000000000000000001","0xB0B","1700000000000",false]`))
	})
	st, err := gw.Auction(context.Background(), 3)
	assert.NoError(t, err)
	check.Equal(t, uint64(3), st.AuctionID)
	check.Equal(t, uint64(42), st.WorkID)
	check.Equal(t, "0xa11ce", st.Seller)
	check.Equal(t, "150000000000000000000001", st.HighestBid.String())
	check.Equal(t, "0xb0b", st.HighestBidder)
	check.False(t, st.Ended)
}

func TestAuctionStateNotFound(t *testing.T) {
	gw := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[0,0,"0x0000000000000000000000000000000000000000",0,0,"0x0000000000000000000000000000000000000000",0,false]`))
	})
	_, err := gw.Auction(context.Background(), 99)
	check.True(t, errors.Is(err, ledger.ErrAuctionNotFound))
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{ContractAddress: "0x1"})
	check.Error(t, err)
	_, err = New(Config{URL: "http://localhost"})
	check.Error(t, err)
}
