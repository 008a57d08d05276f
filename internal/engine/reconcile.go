package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"copyauction/internal/domain"
	"copyauction/internal/events"
	"copyauction/internal/ledger"
	"copyauction/internal/repo"
)

// ReconcileOp replays a confirmed ledger op into the projection from ledger
// reads. It never submits a mutating call. Replaying an op that is already
// projected only closes its journal row.
//
// An unknown op, or a submitted op idle past the grace period, is first
// resolved against what the ledger shows: confirmed and replayed when the
// ledger applied it, failed otherwise.
func (e Engine) ReconcileOp(ctx context.Context, opID string) (domain.LedgerOp, error) {
	op, err := e.Repo.GetLedgerOp(ctx, opID)
	if err != nil {
		return op, err
	}
	switch op.Status {
	case domain.OpReconciled:
		return op, nil
	case domain.OpConfirmed:
	case domain.OpSubmitted, domain.OpUnknown:
		if op.Status == domain.OpSubmitted && op.UpdatedAt > e.graceCutoff() {
			return op, fmt.Errorf("ledger op %s is still in flight", op.ID)
		}
		if op, err = e.resolveOp(ctx, op); err != nil {
			return op, err
		}
		if op.Status != domain.OpConfirmed {
			return op, nil
		}
	default:
		return op, fmt.Errorf("ledger op %s is %s; only confirmed ops can be replayed", op.ID, op.Status)
	}
	if op.TxHash == nil || *op.TxHash == "" {
		return op, fmt.Errorf("ledger op %s has no transaction hash", op.ID)
	}
	txHash := *op.TxHash

	switch op.Kind {
	case domain.OpStartAuction:
		st, err := e.startedAuctionFor(ctx, op)
		if err != nil {
			return op, e.reconciliationFailed(ctx, op, txHash, err)
		}
		if _, err := e.projectStart(ctx, op, txHash, st); err != nil {
			return op, err
		}
	case domain.OpPlaceBid:
		a, err := e.projectBid(ctx, op, txHash, nil)
		if err != nil {
			return op, err
		}
		e.publish(ctx, a)
	case domain.OpEndAuction:
		var winner *int64
		if op.AuctionID != nil {
			winner = e.ledgerWinner(ctx, *op.AuctionID)
		}
		if _, err := e.projectEnd(ctx, op, txHash, winner); err != nil {
			return op, err
		}
	default:
		return op, fmt.Errorf("ledger op %s has unknown kind %q", op.ID, op.Kind)
	}
	e.noteReplayed(ctx, op, txHash)
	return e.Repo.GetLedgerOp(ctx, opID)
}

// noteReplayed records that the reconciler, not the request path, closed op.
func (e Engine) noteReplayed(ctx context.Context, op domain.LedgerOp, txHash string) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.logger().Printf("reconcile: op=%s audit: %v", op.ID, err)
		return
	}
	defer tx.Rollback()
	payload := events.EventPayload{"kind": op.Kind, "attempts": op.Attempts}
	if op.AuctionID != nil {
		payload["auction_id"] = *op.AuctionID
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.OpReconciled,
		EntityKind: events.EntityLedgerOp,
		EntityID:   op.ID,
		ActorID:    strconv.FormatInt(op.ActorID, 10),
		TxHash:     txHash,
		Payload:    payload,
	}); err != nil {
		e.logger().Printf("reconcile: op=%s audit: %v", op.ID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		e.logger().Printf("reconcile: op=%s audit: %v", op.ID, err)
	}
}

// resolveOp settles an op whose receipt was never recorded from the ledger's
// current state. An applied op keeps its hash when one was recorded and is
// otherwise keyed by its op id.
func (e Engine) resolveOp(ctx context.Context, op domain.LedgerOp) (domain.LedgerOp, error) {
	applied, auctionID, err := e.ledgerApplied(ctx, op)
	if err != nil {
		return op, fmt.Errorf("resolve ledger op %s: %w", op.ID, err)
	}
	now := e.stamp()
	if !applied {
		reason := "ledger shows no effect"
		if op.Error != "" {
			reason += ": " + op.Error
		}
		if err := e.Repo.FailLedgerOp(ctx, op.ID, "", reason, now); err != nil {
			return op, fmt.Errorf("resolve ledger op %s: %w", op.ID, err)
		}
		e.logger().Printf("reconcile: op=%s kind=%s not applied on ledger", op.ID, op.Kind)
		return e.Repo.GetLedgerOp(ctx, op.ID)
	}
	if auctionID != 0 && op.AuctionID == nil {
		if err := e.Repo.SetLedgerOpAuction(ctx, op.ID, auctionID, now); err != nil {
			e.logger().Printf("ledger op %s: record auction id: %v", op.ID, err)
		}
	}
	if err := e.Repo.ResolveLedgerOp(ctx, op.ID, "ledger-read:"+op.ID, now); err != nil {
		return op, fmt.Errorf("resolve ledger op %s: %w", op.ID, err)
	}
	e.logger().Printf("reconcile: op=%s kind=%s applied on ledger", op.ID, op.Kind)
	return e.Repo.GetLedgerOp(ctx, op.ID)
}

// ledgerApplied reports whether the ledger shows the effect of op. For a
// start it also returns the auction id the ledger assigned.
func (e Engine) ledgerApplied(ctx context.Context, op domain.LedgerOp) (bool, int64, error) {
	actor, err := e.Repo.GetUser(ctx, op.ActorID)
	if err != nil {
		return false, 0, fmt.Errorf("load actor: %w", err)
	}
	if actor.LedgerAddress == nil {
		return false, 0, nil
	}
	switch op.Kind {
	case domain.OpStartAuction:
		if op.WorkID == nil {
			return false, 0, fmt.Errorf("start op %s lacks work", op.ID)
		}
		st, err := e.locateStartedAuction(ctx, *op.WorkID, *actor.LedgerAddress)
		if errors.Is(err, errNoStartedAuction) {
			return false, 0, nil
		}
		if err != nil {
			return false, 0, err
		}
		return true, int64(st.AuctionID), nil
	case domain.OpPlaceBid, domain.OpEndAuction:
		if op.AuctionID == nil {
			return false, 0, fmt.Errorf("%s op %s lacks auction", op.Kind, op.ID)
		}
		st, err := e.Ledger.Auction(ctx, uint64(*op.AuctionID))
		if errors.Is(err, ledger.ErrAuctionNotFound) {
			return false, 0, nil
		}
		if err != nil {
			return false, 0, err
		}
		if op.Kind == domain.OpEndAuction {
			return st.Ended, 0, nil
		}
		if op.Amount == nil {
			return false, 0, fmt.Errorf("bid op %s lacks amount", op.ID)
		}
		// bids strictly increase, so the bidder still leading at or above
		// this amount means the call went through
		leads := repo.NormalizeAddress(st.HighestBidder) == repo.NormalizeAddress(*actor.LedgerAddress)
		return leads && st.HighestBid != nil && st.HighestBid.Cmp(op.Amount.Big()) >= 0, 0, nil
	default:
		return false, 0, fmt.Errorf("ledger op %s has unknown kind %q", op.ID, op.Kind)
	}
}

// startedAuctionFor returns the ledger auction a start op created. A start
// already projected under this transaction is returned without a ledger scan.
func (e Engine) startedAuctionFor(ctx context.Context, op domain.LedgerOp) (ledger.AuctionState, error) {
	if op.WorkID == nil {
		return ledger.AuctionState{}, fmt.Errorf("start op %s lacks work", op.ID)
	}
	if op.AuctionID != nil {
		a, err := e.Repo.GetAuction(ctx, *op.AuctionID)
		if err == nil && a.StartTxHash == *op.TxHash {
			return ledger.AuctionState{AuctionID: uint64(a.AuctionID), WorkID: uint64(a.WorkID)}, nil
		}
		st, err := e.Ledger.Auction(ctx, uint64(*op.AuctionID))
		if err == nil && st.WorkID == uint64(*op.WorkID) {
			return st, nil
		}
	}
	seller, err := e.Repo.GetUser(ctx, op.ActorID)
	if err != nil {
		return ledger.AuctionState{}, fmt.Errorf("load seller: %w", err)
	}
	if seller.LedgerAddress == nil {
		return ledger.AuctionState{}, fmt.Errorf("seller %d has no ledger address", seller.ID)
	}
	return e.locateStartedAuction(ctx, *op.WorkID, *seller.LedgerAddress)
}

// ReconcileReport summarizes one ReconcilePending pass.
type ReconcileReport struct {
	Checked    int `json:"checked"`
	Reconciled int `json:"reconciled"`
	// Resolved counts unknown or stalled ops the ledger shows as applied.
	Resolved int `json:"resolved"`
	// Dropped counts unknown or stalled ops the ledger never applied.
	Dropped int      `json:"dropped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

func (e Engine) graceCutoff() string {
	return e.now().Add(-e.config().Reconcile.Grace()).UTC().Format(time.RFC3339)
}

// ReconcilePending replays confirmed ops and resolves unknown or submitted
// ops that have been idle for longer than the configured grace period.
// Younger ops may still be in flight.
func (e Engine) ReconcilePending(ctx context.Context, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	if limit <= 0 {
		limit = e.config().Reconcile.Batch
	}
	cutoff := e.graceCutoff()
	var ops []domain.LedgerOp
	for _, status := range []domain.LedgerOpStatus{domain.OpConfirmed, domain.OpUnknown, domain.OpSubmitted} {
		if len(ops) >= limit {
			break
		}
		batch, err := e.Repo.ListLedgerOps(ctx, repo.LedgerOpFilters{Status: status, Before: cutoff, Limit: limit - len(ops)})
		if err != nil {
			return report, err
		}
		ops = append(ops, batch...)
	}
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		got, err := e.ReconcileOp(ctx, op.ID)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", op.ID, err))
			var rerr ReconciliationError
			if !errors.As(err, &rerr) {
				e.logger().Printf("reconcile: op=%s kind=%s: %v", op.ID, op.Kind, err)
			}
			continue
		}
		if got.Status == domain.OpFailed {
			report.Dropped++
			continue
		}
		if op.Status != domain.OpConfirmed {
			report.Resolved++
		}
		report.Reconciled++
	}
	return report, nil
}

// Reconciler runs ReconcilePending on a fixed interval until its context ends.
type Reconciler struct {
	Engine   Engine
	Interval time.Duration
	Batch    int
	Logger   *log.Logger
}

func (r Reconciler) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := r.Engine.ReconcilePending(ctx, r.Batch)
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Printf("reconcile pass: %v", err)
		case report.Checked > 0:
			logger.Printf("reconcile pass: checked=%d reconciled=%d resolved=%d dropped=%d failed=%d",
				report.Checked, report.Reconciled, report.Resolved, report.Dropped, report.Failed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
