package engine

import (
	"fmt"
	"net/http"
)

// Precondition codes reported by the validator.
const (
	CodeUserNotFound         = "user_not_found"
	CodeUserInactive         = "user_inactive"
	CodeWorkNotFound         = "work_not_found"
	CodeCopyrightMissing     = "copyright_missing"
	CodeWorkOnAuction        = "work_on_auction"
	CodeNotWorkOwner         = "not_work_owner"
	CodeAuctionNotFound      = "auction_not_found"
	CodeAuctionNotActive     = "auction_not_active"
	CodeBidTooLow            = "bid_too_low"
	CodeLedgerAddressMissing = "ledger_address_missing"
	CodeOwnerCannotBid       = "owner_cannot_bid"
	CodeNotSeller            = "not_seller"
	CodeNoBids               = "no_bids"
	CodeInvalidArgument      = "invalid_argument"
)

// PreconditionError is a request rejected before any ledger call.
type PreconditionError struct {
	Code    string
	Message string
}

func (e PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the code onto a response status.
func (e PreconditionError) HTTPStatus() int {
	switch e.Code {
	case CodeUserNotFound, CodeWorkNotFound, CodeAuctionNotFound:
		return http.StatusNotFound
	case CodeUserInactive, CodeNotWorkOwner, CodeOwnerCannotBid, CodeNotSeller:
		return http.StatusForbidden
	case CodeWorkOnAuction, CodeAuctionNotActive, CodeNoBids:
		return http.StatusConflict
	case CodeBidTooLow, CodeCopyrightMissing, CodeLedgerAddressMissing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func precondition(code, format string, args ...any) PreconditionError {
	return PreconditionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// LedgerError is a call the ledger rejected or that failed before it was
// sent. Nothing was projected.
type LedgerError struct {
	Op     string
	Status string
	TxHash string
	Reason string
}

func (e LedgerError) Error() string {
	msg := fmt.Sprintf("ledger rejected %s", e.Op)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UnknownOutcomeError is a call that was sent without a receipt coming back.
// Callers must query the ledger before retrying.
type UnknownOutcomeError struct {
	Op   string
	OpID string
	Err  error
}

func (e UnknownOutcomeError) Error() string {
	return fmt.Sprintf("ledger outcome of %s unknown (op %s): query auction status before retrying", e.Op, e.OpID)
}

func (e UnknownOutcomeError) Unwrap() error { return e.Err }

// ReconciliationError is a ledger success whose projection write has not
// landed yet. The journal keeps the op confirmed so the reconciler replays it.
type ReconciliationError struct {
	Op     string
	OpID   string
	TxHash string
	Err    error
}

func (e ReconciliationError) Error() string {
	return fmt.Sprintf("%s confirmed on ledger (tx %s) but not yet projected (op %s): %v", e.Op, e.TxHash, e.OpID, e.Err)
}

func (e ReconciliationError) Unwrap() error { return e.Err }
