// Package ledger describes the auction contract surface consumed by the
// coordination engine. The engine only ever looks at receipts and read-only
// queries; what the contract does internally is opaque.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// ErrUnknownOutcome reports that a mutating call was sent but no receipt came
// back. The transaction may or may not have been sequenced.
var ErrUnknownOutcome = errors.New("ledger outcome unknown")

// ErrAuctionNotFound is returned by Gateway.Auction for ids the ledger never assigned.
var ErrAuctionNotFound = errors.New("ledger auction not found")

// Receipt is the ledger's answer to a submitted transaction.
type Receipt struct {
	Success     bool
	Status      string
	TxHash      string
	Output      []byte
	BlockNumber uint64
	TxIndex     uint64
}

// CallOpts identifies the sender of a mutating call. Credential is passed
// through to the gateway untouched.
type CallOpts struct {
	From       string
	Credential string
}

// AuctionState is the contract's own view of an auction.
type AuctionState struct {
	AuctionID     uint64
	WorkID        uint64
	Seller        string
	StartPrice    *big.Int
	HighestBid    *big.Int
	HighestBidder string
	EndTimeMillis uint64
	Ended         bool
}

// Gateway submits calls to the auction contract.
type Gateway interface {
	StartAuction(ctx context.Context, opts CallOpts, workID uint64, startPrice *big.Int, durationMillis uint64) (Receipt, error)
	PlaceBid(ctx context.Context, opts CallOpts, auctionID uint64, amount *big.Int) (Receipt, error)
	EndAuction(ctx context.Context, opts CallOpts, auctionID uint64) (Receipt, error)
	AuctionCounter(ctx context.Context) (uint64, error)
	Auction(ctx context.Context, auctionID uint64) (AuctionState, error)
}

// UnknownOutcome wraps err so that errors.Is(err, ErrUnknownOutcome) holds.
func UnknownOutcome(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnknownOutcome, err)
}
