package memledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"copyauction/internal/ledger"
)

const (
	alice = "0xa11ce"
	bob   = "0xb0b"
	carol = "0xca201"
)

func startAuction(t *testing.T, l *Ledger) uint64 {
	t.Helper()
	l.RegisterWork(42, alice)
	r, err := l.StartAuction(context.Background(), ledger.CallOpts{From: alice}, 42, big.NewInt(100), 3600_000)
	assert.NoError(t, err)
	assert.True(t, r.Success)
	id, err := l.AuctionCounter(context.Background())
	assert.NoError(t, err)
	return id
}

func TestStartAssignsCounter(t *testing.T) {
	l := New()
	id := startAuction(t, l)
	check.Equal(t, uint64(1), id)

	st, err := l.Auction(context.Background(), id)
	assert.NoError(t, err)
	check.Equal(t, uint64(42), st.WorkID)
	check.Equal(t, alice, st.Seller)
	check.Equal(t, "100", st.HighestBid.String())
	check.False(t, st.Ended)
}

func TestStartRejectsSecondAuctionOnWork(t *testing.T) {
	l := New()
	startAuction(t, l)
	r, err := l.StartAuction(context.Background(), ledger.CallOpts{From: alice}, 42, big.NewInt(5), 1000)
	assert.NoError(t, err)
	check.False(t, r.Success)
	check.Equal(t, "work is already on auction", ledger.DecodeRevertReason(r.Output))
}

func TestBidsMustIncrease(t *testing.T) {
	l := New()
	id := startAuction(t, l)
	ctx := context.Background()

	r, err := l.PlaceBid(ctx, ledger.CallOpts{From: bob}, id, big.NewInt(150))
	assert.NoError(t, err)
	check.True(t, r.Success)

	r, err = l.PlaceBid(ctx, ledger.CallOpts{From: carol}, id, big.NewInt(150))
	assert.NoError(t, err)
	check.False(t, r.Success)

	r, err = l.PlaceBid(ctx, ledger.CallOpts{From: alice}, id, big.NewInt(500))
	assert.NoError(t, err)
	check.False(t, r.Success)
	check.Equal(t, "seller cannot bid", ledger.DecodeRevertReason(r.Output))
}

func TestEndTransfersOwnership(t *testing.T) {
	l := New()
	id := startAuction(t, l)
	ctx := context.Background()
	_, err := l.PlaceBid(ctx, ledger.CallOpts{From: bob}, id, big.NewInt(150))
	assert.NoError(t, err)

	r, err := l.EndAuction(ctx, ledger.CallOpts{From: bob}, id)
	assert.NoError(t, err)
	check.False(t, r.Success)

	r, err = l.EndAuction(ctx, ledger.CallOpts{From: alice}, id)
	assert.NoError(t, err)
	check.True(t, r.Success)
	owner, ok := l.Owner(42)
	check.True(t, ok)
	check.Equal(t, bob, owner)

	r, err = l.EndAuction(ctx, ledger.CallOpts{From: alice}, id)
	assert.NoError(t, err)
	check.False(t, r.Success)
}

func TestReceiptsAreSequenced(t *testing.T) {
	l := New()
	id := startAuction(t, l)
	ctx := context.Background()
	r1, err := l.PlaceBid(ctx, ledger.CallOpts{From: bob}, id, big.NewInt(120))
	assert.NoError(t, err)
	r2, err := l.PlaceBid(ctx, ledger.CallOpts{From: carol}, id, big.NewInt(130))
	assert.NoError(t, err)
	check.True(t, r2.BlockNumber > r1.BlockNumber)
	check.NotEqual(t, r1.TxHash, r2.TxHash)
}

func TestInterceptAbortsWithoutStateChange(t *testing.T) {
	l := New()
	id := startAuction(t, l)
	boom := errors.New("boom")
	l.Intercept = func(ctx context.Context, call Call) error {
		if call.Func == "placeBid" {
			return ledger.UnknownOutcome(call.Func, boom)
		}
		return nil
	}
	_, err := l.PlaceBid(context.Background(), ledger.CallOpts{From: bob}, id, big.NewInt(150))
	check.True(t, errors.Is(err, ledger.ErrUnknownOutcome))
	st, err := l.Auction(context.Background(), id)
	assert.NoError(t, err)
	check.Equal(t, "100", st.HighestBid.String())
}

func TestUnknownAuction(t *testing.T) {
	l := New()
	_, err := l.Auction(context.Background(), 9)
	check.True(t, errors.Is(err, ledger.ErrAuctionNotFound))
}

func TestRestoreKeepsCounterMonotonic(t *testing.T) {
	l := New()
	l.RegisterWork(42, alice)
	l.Restore(ledger.AuctionState{AuctionID: 5, WorkID: 42, Seller: "0xA11CE", StartPrice: big.NewInt(10), HighestBid: big.NewInt(20), HighestBidder: bob})
	n, err := l.AuctionCounter(context.Background())
	assert.NoError(t, err)
	check.Equal(t, uint64(5), n)

	r, err := l.StartAuction(context.Background(), ledger.CallOpts{From: alice}, 42, big.NewInt(1), 1000)
	assert.NoError(t, err)
	check.False(t, r.Success)

	r, err = l.PlaceBid(context.Background(), ledger.CallOpts{From: carol}, 5, big.NewInt(20))
	assert.NoError(t, err)
	check.False(t, r.Success)
}
