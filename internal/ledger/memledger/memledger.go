// Package memledger is an in-process stand-in for the auction contract. It
// serializes every mutating call under one lock, assigns auction ids from a
// counter and returns receipts shaped like the real chain's.
package memledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"copyauction/internal/ledger"
)

const successStatus = "0x0"

type work struct {
	owner     string
	onAuction bool
}

type auction struct {
	state ledger.AuctionState
}

// Ledger implements ledger.Gateway in memory.
type Ledger struct {
	mu       sync.Mutex
	works    map[uint64]*work
	auctions map[uint64]*auction
	counter  uint64
	block    uint64
	now      func() time.Time

	// Intercept, when set, runs before a mutating call is applied. Returning
	// an error aborts the call with that error and no state change.
	Intercept func(ctx context.Context, call Call) error
}

// Call describes a mutating call seen by Intercept.
type Call struct {
	Func      string
	From      string
	WorkID    uint64
	AuctionID uint64
	Amount    *big.Int
}

func New() *Ledger {
	return &Ledger{
		works:    make(map[uint64]*work),
		auctions: make(map[uint64]*auction),
		now:      time.Now,
	}
}

// RegisterWork records a work and its owner address, as the contract's
// registration flow would.
func (l *Ledger) RegisterWork(workID uint64, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.works[workID] = &work{owner: normalize(owner)}
}

// Restore installs an auction the contract already holds, e.g. when the
// process restarts with an existing projection. The counter never moves back.
func (l *Ledger) Restore(st ledger.AuctionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st.Seller = normalize(st.Seller)
	st.HighestBidder = normalize(st.HighestBidder)
	if st.StartPrice == nil {
		st.StartPrice = new(big.Int)
	}
	if st.HighestBid == nil {
		st.HighestBid = new(big.Int).Set(st.StartPrice)
	}
	l.auctions[st.AuctionID] = &auction{state: st}
	if st.AuctionID > l.counter {
		l.counter = st.AuctionID
	}
	if w, ok := l.works[st.WorkID]; ok && !st.Ended {
		w.onAuction = true
	}
}

// Owner returns the ledger owner of a work.
func (l *Ledger) Owner(workID uint64) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[workID]
	if !ok {
		return "", false
	}
	return w.owner, true
}

func (l *Ledger) StartAuction(ctx context.Context, opts ledger.CallOpts, workID uint64, startPrice *big.Int, durationMillis uint64) (ledger.Receipt, error) {
	if err := l.intercept(ctx, Call{Func: "startAuction", From: opts.From, WorkID: workID, Amount: startPrice}); err != nil {
		return ledger.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.works[workID]
	switch {
	case !ok:
		return l.revert("work does not exist"), nil
	case w.owner != normalize(opts.From):
		return l.revert("only the work owner can start an auction"), nil
	case w.onAuction:
		return l.revert("work is already on auction"), nil
	case startPrice == nil || startPrice.Sign() < 0:
		return l.revert("invalid start price"), nil
	case durationMillis == 0:
		return l.revert("invalid duration"), nil
	}
	l.counter++
	w.onAuction = true
	end := uint64(l.now().UnixMilli()) + durationMillis
	l.auctions[l.counter] = &auction{state: ledger.AuctionState{
		AuctionID:     l.counter,
		WorkID:        workID,
		Seller:        w.owner,
		StartPrice:    new(big.Int).Set(startPrice),
		HighestBid:    new(big.Int).Set(startPrice),
		EndTimeMillis: end,
	}}
	return l.success(), nil
}

func (l *Ledger) PlaceBid(ctx context.Context, opts ledger.CallOpts, auctionID uint64, amount *big.Int) (ledger.Receipt, error) {
	if err := l.intercept(ctx, Call{Func: "placeBid", From: opts.From, AuctionID: auctionID, Amount: amount}); err != nil {
		return ledger.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.auctions[auctionID]
	from := normalize(opts.From)
	switch {
	case !ok:
		return l.revert("auction does not exist"), nil
	case a.state.Ended:
		return l.revert("auction has ended"), nil
	case from == "":
		return l.revert("sender required"), nil
	case from == a.state.Seller:
		return l.revert("seller cannot bid"), nil
	case amount == nil || amount.Cmp(a.state.HighestBid) <= 0:
		return l.revert("bid must be higher than the current highest bid"), nil
	}
	a.state.HighestBid = new(big.Int).Set(amount)
	a.state.HighestBidder = from
	return l.success(), nil
}

func (l *Ledger) EndAuction(ctx context.Context, opts ledger.CallOpts, auctionID uint64) (ledger.Receipt, error) {
	if err := l.intercept(ctx, Call{Func: "endAuction", From: opts.From, AuctionID: auctionID}); err != nil {
		return ledger.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.auctions[auctionID]
	switch {
	case !ok:
		return l.revert("auction does not exist"), nil
	case a.state.Ended:
		return l.revert("auction already ended"), nil
	case normalize(opts.From) != a.state.Seller:
		return l.revert("only the seller can end the auction"), nil
	}
	a.state.Ended = true
	if w, ok := l.works[a.state.WorkID]; ok {
		w.onAuction = false
		if a.state.HighestBidder != "" {
			w.owner = a.state.HighestBidder
		}
	}
	return l.success(), nil
}

func (l *Ledger) AuctionCounter(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter, nil
}

func (l *Ledger) Auction(ctx context.Context, auctionID uint64) (ledger.AuctionState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.auctions[auctionID]
	if !ok {
		return ledger.AuctionState{}, ledger.ErrAuctionNotFound
	}
	st := a.state
	st.StartPrice = new(big.Int).Set(a.state.StartPrice)
	st.HighestBid = new(big.Int).Set(a.state.HighestBid)
	return st, nil
}

func (l *Ledger) intercept(ctx context.Context, call Call) error {
	if err := ctx.Err(); err != nil {
		return ledger.UnknownOutcome(call.Func, err)
	}
	if l.Intercept == nil {
		return nil
	}
	return l.Intercept(ctx, call)
}

// success and revert must be called with mu held; each consumes one block.
func (l *Ledger) success() ledger.Receipt {
	l.block++
	return ledger.Receipt{
		Success:     true,
		Status:      successStatus,
		TxHash:      txHash(),
		BlockNumber: l.block,
	}
}

func (l *Ledger) revert(reason string) ledger.Receipt {
	l.block++
	return ledger.Receipt{
		Status:      "0x16",
		TxHash:      txHash(),
		Output:      ledger.EncodeRevertReason(reason),
		BlockNumber: l.block,
	}
}

func txHash() string {
	id := uuid.New()
	sum := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("0x%s%s", sum, sum)
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
