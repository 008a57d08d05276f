package engine

import (
	"errors"
	"net/http"
	"testing"

	"copyauction/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func codeOf(err error) string {
	var pe PreconditionError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if err == nil {
		return ""
	}
	return "unexpected: " + err.Error()
}

func TestValidateStart(t *testing.T) {
	seller := &domain.User{ID: 1, Email: "a@x", Status: domain.UserActive, LedgerAddress: ptr("0xa")}
	work := func(mod func(*domain.Work)) *domain.Work {
		w := &domain.Work{WorkID: 9, OwnerID: 1, CopyrightID: ptr("c-9")}
		if mod != nil {
			mod(w)
		}
		return w
	}
	cases := []struct {
		name     string
		seller   *domain.User
		work     *domain.Work
		duration int64
		want     string
	}{
		{"ok", seller, work(nil), 60, ""},
		{"no seller", nil, work(nil), 60, CodeUserNotFound},
		{"disabled seller", &domain.User{ID: 1, Status: domain.UserDisabled}, work(nil), 60, CodeUserInactive},
		{"no work", seller, nil, 60, CodeWorkNotFound},
		{"no copyright", seller, work(func(w *domain.Work) { w.CopyrightID = nil }), 60, CodeCopyrightMissing},
		{"empty copyright", seller, work(func(w *domain.Work) { w.CopyrightID = ptr("") }), 60, CodeCopyrightMissing},
		{"on auction", seller, work(func(w *domain.Work) { w.IsOnAuction = true }), 60, CodeWorkOnAuction},
		{"not owner", seller, work(func(w *domain.Work) { w.OwnerID = 2 }), 60, CodeNotWorkOwner},
		{"zero duration", seller, work(nil), 0, CodeInvalidArgument},
		{"no address", &domain.User{ID: 1, Status: domain.UserActive}, work(nil), 60, CodeLedgerAddressMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := codeOf(ValidateStart(tc.seller, tc.work, domain.NewAmount(10), tc.duration)); got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestValidateBid(t *testing.T) {
	bidder := &domain.User{ID: 2, Status: domain.UserActive, LedgerAddress: ptr("0xb")}
	active := &domain.Auction{AuctionID: 1, WorkID: 9, SellerID: 1, CurrentPrice: domain.NewAmount(100), Status: domain.AuctionActive}
	ended := &domain.Auction{AuctionID: 1, WorkID: 9, SellerID: 1, CurrentPrice: domain.NewAmount(100), Status: domain.AuctionEnded}
	work := &domain.Work{WorkID: 9, OwnerID: 1}
	cases := []struct {
		name    string
		bidder  *domain.User
		auction *domain.Auction
		work    *domain.Work
		amount  int64
		want    string
	}{
		{"ok", bidder, active, work, 101, ""},
		{"tie", bidder, active, work, 100, CodeBidTooLow},
		{"lower", bidder, active, work, 99, CodeBidTooLow},
		{"no bidder", nil, active, work, 101, CodeUserNotFound},
		{"no auction", bidder, nil, work, 101, CodeAuctionNotFound},
		{"ended", bidder, ended, work, 101, CodeAuctionNotActive},
		{"no address", &domain.User{ID: 2, Status: domain.UserActive}, active, work, 101, CodeLedgerAddressMissing},
		{"owner", &domain.User{ID: 1, Status: domain.UserActive, LedgerAddress: ptr("0xa")}, active, work, 101, CodeOwnerCannotBid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := codeOf(ValidateBid(tc.bidder, tc.auction, tc.work, domain.NewAmount(tc.amount))); got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestValidateEnd(t *testing.T) {
	seller := &domain.User{ID: 1, Status: domain.UserActive, LedgerAddress: ptr("0xa")}
	withBid := &domain.Auction{AuctionID: 1, SellerID: 1, Status: domain.AuctionActive, HighestBidderID: ptr(int64(2))}
	cases := []struct {
		name    string
		caller  *domain.User
		auction *domain.Auction
		want    string
	}{
		{"ok", seller, withBid, ""},
		{"not seller", &domain.User{ID: 2, Status: domain.UserActive}, withBid, CodeNotSeller},
		{"no bids", seller, &domain.Auction{AuctionID: 1, SellerID: 1, Status: domain.AuctionActive}, CodeNoBids},
		{"already ended", seller, &domain.Auction{AuctionID: 1, SellerID: 1, Status: domain.AuctionEnded, HighestBidderID: ptr(int64(2))}, CodeAuctionNotActive},
		{"missing", seller, nil, CodeAuctionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := codeOf(ValidateEnd(tc.caller, tc.auction)); got != tc.want {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestPreconditionStatus(t *testing.T) {
	cases := map[string]int{
		CodeAuctionNotFound: http.StatusNotFound,
		CodeNotSeller:       http.StatusForbidden,
		CodeWorkOnAuction:   http.StatusConflict,
		CodeBidTooLow:       http.StatusUnprocessableEntity,
		CodeInvalidArgument: http.StatusBadRequest,
	}
	for code, want := range cases {
		if got := (PreconditionError{Code: code}).HTTPStatus(); got != want {
			t.Fatalf("%s: want %d, got %d", code, want, got)
		}
	}
}
