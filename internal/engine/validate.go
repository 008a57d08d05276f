package engine

import (
	"copyauction/internal/domain"
)

// ValidateStart checks that seller may put work up for auction. A nil seller
// or work means the lookup found nothing.
func ValidateStart(seller *domain.User, work *domain.Work, startPrice domain.Amount, durationSeconds int64) error {
	if err := activeUser(seller); err != nil {
		return err
	}
	if work == nil {
		return precondition(CodeWorkNotFound, "work not found")
	}
	if work.CopyrightID == nil || *work.CopyrightID == "" {
		return precondition(CodeCopyrightMissing, "work %d has no copyright certificate", work.WorkID)
	}
	if work.IsOnAuction {
		return precondition(CodeWorkOnAuction, "work %d is already on auction", work.WorkID)
	}
	if work.OwnerID != seller.ID {
		return precondition(CodeNotWorkOwner, "work %d is not owned by the seller", work.WorkID)
	}
	if durationSeconds <= 0 {
		return precondition(CodeInvalidArgument, "duration must be positive")
	}
	if seller.LedgerAddress == nil {
		return precondition(CodeLedgerAddressMissing, "seller has no ledger address")
	}
	return nil
}

// ValidateBid checks a bid against the projected auction. Ties with the
// current price are rejected.
func ValidateBid(bidder *domain.User, auction *domain.Auction, work *domain.Work, amount domain.Amount) error {
	if err := activeUser(bidder); err != nil {
		return err
	}
	if auction == nil {
		return precondition(CodeAuctionNotFound, "auction not found")
	}
	if auction.Status != domain.AuctionActive {
		return precondition(CodeAuctionNotActive, "auction %d is %s", auction.AuctionID, auction.Status)
	}
	if !amount.GreaterThan(auction.CurrentPrice) {
		return precondition(CodeBidTooLow, "bid %s must be higher than the current price %s", amount, auction.CurrentPrice)
	}
	if bidder.LedgerAddress == nil {
		return precondition(CodeLedgerAddressMissing, "bidder has no ledger address")
	}
	if work == nil {
		return precondition(CodeWorkNotFound, "work %d not found", auction.WorkID)
	}
	if work.OwnerID == bidder.ID {
		return precondition(CodeOwnerCannotBid, "the owner of work %d cannot bid on it", work.WorkID)
	}
	return nil
}

// ValidateEnd checks that caller may close the auction.
func ValidateEnd(caller *domain.User, auction *domain.Auction) error {
	if caller == nil {
		return precondition(CodeUserNotFound, "user not found")
	}
	if auction == nil {
		return precondition(CodeAuctionNotFound, "auction not found")
	}
	if auction.Status != domain.AuctionActive {
		return precondition(CodeAuctionNotActive, "auction %d is %s", auction.AuctionID, auction.Status)
	}
	if caller.ID != auction.SellerID {
		return precondition(CodeNotSeller, "only the seller can end auction %d", auction.AuctionID)
	}
	if auction.HighestBidderID == nil {
		return precondition(CodeNoBids, "auction %d has no bids", auction.AuctionID)
	}
	if caller.LedgerAddress == nil {
		return precondition(CodeLedgerAddressMissing, "seller has no ledger address")
	}
	return nil
}

func activeUser(u *domain.User) error {
	if u == nil {
		return precondition(CodeUserNotFound, "user not found")
	}
	if u.Status != domain.UserActive {
		return precondition(CodeUserInactive, "user %s is %s", u.Email, u.Status)
	}
	return nil
}
