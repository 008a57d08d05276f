// Package notify fans accepted-bid events out to live subscribers. Delivery
// is at most once and nothing is buffered for late subscribers.
package notify

import (
	"context"
	"errors"

	"copyauction/internal/domain"
)

// BidEvent is broadcast after a bid is projected. CurrentPrice is the
// committed auction price, which may be higher than the bid that triggered it.
type BidEvent struct {
	AuctionID    int64         `json:"auctionId"`
	CurrentPrice domain.Amount `json:"currentPrice"`
	BuyerID      int64         `json:"buyerId"`
}

type Bus interface {
	Publish(ctx context.Context, evt BidEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, BidEvent) error { return nil }

// Multi publishes to every bus and joins their errors.
type Multi []Bus

func (m Multi) Publish(ctx context.Context, evt BidEvent) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
