package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"copyauction/internal/config"
	"copyauction/internal/domain"
	"copyauction/internal/events"
	"copyauction/internal/ledger"
	"copyauction/internal/notify"
	"copyauction/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Ledger ledger.Gateway
	Bus    notify.Bus
	Config *config.Config
	Logger *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, gw ledger.Gateway, bus notify.Bus) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if bus == nil {
		bus = notify.Nop{}
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Ledger: gw,
		Bus:    bus,
		Config: cfg,
		Logger: log.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

type StartAuctionRequest struct {
	Email           string
	WorkID          int64
	StartPrice      domain.Amount
	DurationSeconds int64
	// Credential is handed to the ledger gateway as-is.
	Credential string
}

type PlaceBidRequest struct {
	Email      string
	AuctionID  int64
	Amount     domain.Amount
	Credential string
}

type EndAuctionRequest struct {
	Email      string
	AuctionID  int64
	Credential string
}

// StartAuction puts a work up for auction. The auction id is the one the
// ledger assigned.
func (e Engine) StartAuction(ctx context.Context, req StartAuctionRequest) (domain.Auction, error) {
	seller, err := e.lookupUser(ctx, req.Email)
	if err != nil {
		return domain.Auction{}, err
	}
	work, err := e.lookupWork(ctx, req.WorkID)
	if err != nil {
		return domain.Auction{}, err
	}
	if err := ValidateStart(seller, work, req.StartPrice, req.DurationSeconds); err != nil {
		return domain.Auction{}, err
	}
	price := req.StartPrice
	op, err := e.journal(ctx, domain.LedgerOp{
		Kind:            domain.OpStartAuction,
		ActorID:         seller.ID,
		WorkID:          &work.WorkID,
		Amount:          &price,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return domain.Auction{}, err
	}
	rec, callErr := e.Ledger.StartAuction(ctx, callOpts(seller, req.Credential), uint64(work.WorkID), price.Big(), uint64(req.DurationSeconds)*1000)
	// the ledger has spoken; finish even if the caller went away
	ctx = context.WithoutCancel(ctx)
	if err := e.settle(ctx, op, rec, callErr); err != nil {
		return domain.Auction{}, err
	}
	st, err := e.locateStartedAuction(ctx, work.WorkID, *seller.LedgerAddress)
	if err != nil {
		return domain.Auction{}, e.reconciliationFailed(ctx, op, rec.TxHash, fmt.Errorf("read auction id: %w", err))
	}
	// A missing auction id only costs the reconciler a ledger scan.
	if err := e.Repo.SetLedgerOpAuction(ctx, op.ID, int64(st.AuctionID), e.stamp()); err != nil {
		e.logger().Printf("ledger op %s: record auction id: %v", op.ID, err)
	}
	return e.projectStart(ctx, op, rec.TxHash, st)
}

// PlaceBid submits a bid and folds the accepted bid into the projection.
// The returned auction is the committed row, whose price may already be
// higher than this bid.
func (e Engine) PlaceBid(ctx context.Context, req PlaceBidRequest) (domain.Auction, error) {
	bidder, err := e.lookupUser(ctx, req.Email)
	if err != nil {
		return domain.Auction{}, err
	}
	auction, err := e.lookupAuction(ctx, req.AuctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	var work *domain.Work
	if auction != nil {
		if work, err = e.lookupWork(ctx, auction.WorkID); err != nil {
			return domain.Auction{}, err
		}
	}
	if err := ValidateBid(bidder, auction, work, req.Amount); err != nil {
		return domain.Auction{}, err
	}
	amount := req.Amount
	op, err := e.journal(ctx, domain.LedgerOp{
		Kind:      domain.OpPlaceBid,
		ActorID:   bidder.ID,
		AuctionID: &auction.AuctionID,
		WorkID:    &auction.WorkID,
		Amount:    &amount,
	})
	if err != nil {
		return domain.Auction{}, err
	}
	rec, callErr := e.Ledger.PlaceBid(ctx, callOpts(bidder, req.Credential), uint64(auction.AuctionID), amount.Big())
	ctx = context.WithoutCancel(ctx)
	if err := e.settle(ctx, op, rec, callErr); err != nil {
		return domain.Auction{}, err
	}
	op.BlockNumber, op.TxIndex = rec.BlockNumber, rec.TxIndex
	observed := auction.CurrentPrice
	a, err := e.projectBid(ctx, op, rec.TxHash, &observed)
	if err != nil {
		return domain.Auction{}, err
	}
	e.publish(ctx, a)
	return a, nil
}

// EndAuction closes an auction and hands the work to the winner the ledger
// recorded.
func (e Engine) EndAuction(ctx context.Context, req EndAuctionRequest) (domain.Auction, error) {
	caller, err := e.lookupUser(ctx, req.Email)
	if err != nil {
		return domain.Auction{}, err
	}
	auction, err := e.lookupAuction(ctx, req.AuctionID)
	if err != nil {
		return domain.Auction{}, err
	}
	if err := ValidateEnd(caller, auction); err != nil {
		return domain.Auction{}, err
	}
	op, err := e.journal(ctx, domain.LedgerOp{
		Kind:      domain.OpEndAuction,
		ActorID:   caller.ID,
		AuctionID: &auction.AuctionID,
		WorkID:    &auction.WorkID,
	})
	if err != nil {
		return domain.Auction{}, err
	}
	rec, callErr := e.Ledger.EndAuction(ctx, callOpts(caller, req.Credential), uint64(auction.AuctionID))
	ctx = context.WithoutCancel(ctx)
	if err := e.settle(ctx, op, rec, callErr); err != nil {
		return domain.Auction{}, err
	}
	return e.projectEnd(ctx, op, rec.TxHash, e.ledgerWinner(ctx, auction.AuctionID))
}

// ListActiveAuctions returns every active auction with its work and seller.
func (e Engine) ListActiveAuctions(ctx context.Context) ([]domain.AuctionSummary, error) {
	return e.Repo.ListActiveAuctionSummaries(ctx)
}

// GetAuctionDetail returns the active auction of a work as seen by viewerEmail.
// An empty or unknown viewer is never the owner.
func (e Engine) GetAuctionDetail(ctx context.Context, workID int64, viewerEmail string) (domain.AuctionDetail, error) {
	a, err := e.Repo.ActiveAuctionForWork(ctx, workID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.AuctionDetail{}, precondition(CodeAuctionNotFound, "work %d has no active auction", workID)
	}
	if err != nil {
		return domain.AuctionDetail{}, err
	}
	work, err := e.Repo.GetWork(ctx, workID)
	if err != nil {
		return domain.AuctionDetail{}, err
	}
	seller, err := e.Repo.GetUser(ctx, a.SellerID)
	if err != nil {
		return domain.AuctionDetail{}, err
	}
	bids, err := e.Repo.ListBidViews(ctx, a.AuctionID)
	if err != nil {
		return domain.AuctionDetail{}, err
	}
	d := domain.AuctionDetail{
		AuctionID:       a.AuctionID,
		WorkID:          work.WorkID,
		Title:           work.Title,
		Description:     work.Description,
		ImageURL:        work.ImageURL,
		StartPrice:      a.StartPrice,
		CurrentPrice:    a.CurrentPrice,
		HighestBidderID: a.HighestBidderID,
		EndTime:         a.EndTime,
		SellerUsername:  seller.Username,
		Bids:            bids,
	}
	if work.CopyrightID != nil {
		d.CopyrightID = *work.CopyrightID
	}
	if viewerEmail != "" {
		viewer, err := e.Repo.GetUserByEmail(ctx, viewerEmail)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.AuctionDetail{}, err
		}
		d.IsOwner = err == nil && viewer.ID == work.OwnerID
	}
	return d, nil
}

// LedgerStatus compares the ledger's view of an auction with the projection.
type LedgerStatus struct {
	AuctionID     int64           `json:"auction_id"`
	OnLedger      bool            `json:"on_ledger"`
	WorkID        int64           `json:"work_id,omitempty"`
	Seller        string          `json:"seller,omitempty"`
	HighestBid    domain.Amount   `json:"highest_bid"`
	HighestBidder string          `json:"highest_bidder,omitempty"`
	EndTime       string          `json:"end_time,omitempty" format:"date-time"`
	Ended         bool            `json:"ended"`
	Projected     *domain.Auction `json:"projected,omitempty"`
	InSync        bool            `json:"in_sync"`
}

// LedgerAuctionStatus is the read-only query to run after an unknown outcome.
func (e Engine) LedgerAuctionStatus(ctx context.Context, auctionID int64) (LedgerStatus, error) {
	res := LedgerStatus{AuctionID: auctionID}
	if auctionID <= 0 {
		return res, precondition(CodeInvalidArgument, "auction id must be positive")
	}
	st, err := e.Ledger.Auction(ctx, uint64(auctionID))
	switch {
	case errors.Is(err, ledger.ErrAuctionNotFound):
	case err != nil:
		return res, fmt.Errorf("read ledger auction %d: %w", auctionID, err)
	default:
		res.OnLedger = true
		res.WorkID = int64(st.WorkID)
		res.Seller = st.Seller
		res.HighestBidder = st.HighestBidder
		res.Ended = st.Ended
		if st.EndTimeMillis > 0 {
			res.EndTime = time.UnixMilli(int64(st.EndTimeMillis)).UTC().Format(time.RFC3339)
		}
		if res.HighestBid, err = domain.AmountFromBig(st.HighestBid); err != nil {
			return res, err
		}
	}
	a, err := e.Repo.GetAuction(ctx, auctionID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return res, err
	default:
		res.Projected = &a
	}
	if !res.OnLedger && res.Projected == nil {
		return res, precondition(CodeAuctionNotFound, "auction %d not found", auctionID)
	}
	res.InSync = res.OnLedger && res.Projected != nil &&
		res.Projected.CurrentPrice.Equal(res.HighestBid) &&
		(res.Projected.Status == domain.AuctionEnded) == res.Ended
	return res, nil
}

func callOpts(u *domain.User, credential string) ledger.CallOpts {
	opts := ledger.CallOpts{Credential: credential}
	if u.LedgerAddress != nil {
		opts.From = *u.LedgerAddress
	}
	return opts
}

func (e Engine) lookupUser(ctx context.Context, email string) (*domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &u, nil
}

func (e Engine) lookupWork(ctx context.Context, workID int64) (*domain.Work, error) {
	w, err := e.Repo.GetWork(ctx, workID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load work: %w", err)
	}
	return &w, nil
}

func (e Engine) lookupAuction(ctx context.Context, auctionID int64) (*domain.Auction, error) {
	a, err := e.Repo.GetAuction(ctx, auctionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auction: %w", err)
	}
	return &a, nil
}

// journal records the intent before the ledger sees it.
func (e Engine) journal(ctx context.Context, op domain.LedgerOp) (domain.LedgerOp, error) {
	now := e.stamp()
	op.ID = uuid.NewString()
	op.Status = domain.OpSubmitted
	op.CreatedAt = now
	op.UpdatedAt = now
	if err := e.Repo.InsertLedgerOp(ctx, op); err != nil {
		return op, fmt.Errorf("journal %s: %w", op.Kind, err)
	}
	return op, nil
}

// settle records the ledger's answer on the journal and turns failures into
// LedgerError or UnknownOutcomeError. An accepted call whose confirmation
// cannot be written yields ReconciliationError before any projection write.
func (e Engine) settle(ctx context.Context, op domain.LedgerOp, rec ledger.Receipt, callErr error) error {
	now := e.stamp()
	switch {
	case errors.Is(callErr, ledger.ErrUnknownOutcome):
		if err := e.Repo.MarkLedgerOpUnknown(ctx, op.ID, callErr.Error(), now); err != nil {
			e.logger().Printf("ledger op %s: mark unknown: %v", op.ID, err)
		}
		e.logger().Printf("ledger: op=%s kind=%s outcome unknown: %v", op.ID, op.Kind, callErr)
		return UnknownOutcomeError{Op: string(op.Kind), OpID: op.ID, Err: callErr}
	case callErr != nil:
		if err := e.Repo.FailLedgerOp(ctx, op.ID, "", callErr.Error(), now); err != nil {
			e.logger().Printf("ledger op %s: mark failed: %v", op.ID, err)
		}
		return LedgerError{Op: string(op.Kind), Reason: callErr.Error()}
	case !rec.Success:
		reason := ledger.DecodeRevertReason(rec.Output)
		if err := e.Repo.FailLedgerOp(ctx, op.ID, rec.TxHash, reason, now); err != nil {
			e.logger().Printf("ledger op %s: mark failed: %v", op.ID, err)
		}
		return LedgerError{Op: string(op.Kind), Status: rec.Status, TxHash: rec.TxHash, Reason: reason}
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, e.Repo.ConfirmLedgerOp(ctx, op.ID, rec.TxHash, rec.BlockNumber, rec.TxIndex, now)
	}, e.retryOptions()...)
	if err != nil {
		return e.reconciliationFailed(ctx, op, rec.TxHash, fmt.Errorf("confirm: %w", err))
	}
	return nil
}

// locateStartedAuction finds the auction the ledger created for a work,
// scanning down from the counter. Ids already projected under another start
// transaction are skipped.
func (e Engine) locateStartedAuction(ctx context.Context, workID int64, seller string) (ledger.AuctionState, error) {
	counter, err := e.Ledger.AuctionCounter(ctx)
	if err != nil {
		return ledger.AuctionState{}, err
	}
	window := uint64(e.config().Reconcile.ScanWindow)
	if window == 0 {
		window = 1
	}
	seller = repo.NormalizeAddress(seller)
	for id := counter; id > 0 && counter-id < window; id-- {
		st, err := e.Ledger.Auction(ctx, id)
		if errors.Is(err, ledger.ErrAuctionNotFound) {
			continue
		}
		if err != nil {
			return ledger.AuctionState{}, err
		}
		if st.WorkID != uint64(workID) || repo.NormalizeAddress(st.Seller) != seller {
			continue
		}
		if _, err := e.Repo.GetAuction(ctx, int64(id)); err == nil {
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return ledger.AuctionState{}, err
		}
		return st, nil
	}
	return ledger.AuctionState{}, fmt.Errorf("%w for work %d among the last %d ledger auctions", errNoStartedAuction, workID, window)
}

// ledgerWinner maps the ledger's highest bidder to a user. It returns nil
// when the ledger cannot be read or the address is unknown, leaving the
// projection's highest bidder in place.
func (e Engine) ledgerWinner(ctx context.Context, auctionID int64) *int64 {
	st, err := e.Ledger.Auction(ctx, uint64(auctionID))
	if err != nil {
		e.logger().Printf("auction %d: read ledger winner: %v", auctionID, err)
		return nil
	}
	if st.HighestBidder == "" {
		return nil
	}
	u, err := e.Repo.GetUserByLedgerAddress(ctx, st.HighestBidder)
	if err != nil {
		e.logger().Printf("auction %d: ledger winner %s: %v", auctionID, st.HighestBidder, err)
		return nil
	}
	return &u.ID
}

var (
	errPriceMoved       = errors.New("current price moved")
	errNoStartedAuction = errors.New("no unprojected auction")
)

// retryOptions bound every journal and projection write retry.
func (e Engine) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	attempts := e.config().Projection.CASMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return []backoff.RetryOption{backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts))}
}

// retryProjection runs one projection transaction with bounded backoff and
// converts exhaustion into ReconciliationError.
func retryProjection[T any](ctx context.Context, e Engine, op domain.LedgerOp, txHash string, fn func() (T, error)) (T, error) {
	res, err := backoff.Retry(ctx, fn, e.retryOptions()...)
	if err != nil {
		var zero T
		return zero, e.reconciliationFailed(ctx, op, txHash, err)
	}
	return res, nil
}

func (e Engine) reconciliationFailed(ctx context.Context, op domain.LedgerOp, txHash string, err error) error {
	if nerr := e.Repo.NoteLedgerOpAttempt(ctx, op.ID, txHash, err.Error(), e.stamp()); nerr != nil {
		e.logger().Printf("ledger op %s: note attempt: %v", op.ID, nerr)
	}
	e.logger().Printf("reconcile: op=%s kind=%s tx=%s: %v", op.ID, op.Kind, txHash, err)
	return ReconciliationError{Op: string(op.Kind), OpID: op.ID, TxHash: txHash, Err: err}
}

func (e Engine) projectStart(ctx context.Context, op domain.LedgerOp, txHash string, st ledger.AuctionState) (domain.Auction, error) {
	return retryProjection(ctx, e, op, txHash, func() (domain.Auction, error) {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.Auction{}, err
		}
		defer tx.Rollback()

		now := e.now().UTC()
		stamp := now.Format(time.RFC3339)
		if a, err := e.Repo.AuctionByStartTxTx(ctx, tx, txHash); err == nil {
			if err := e.Repo.MarkLedgerOpReconciledTx(ctx, tx, op.ID, txHash, stamp); err != nil {
				return domain.Auction{}, err
			}
			return a, tx.Commit()
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Auction{}, err
		}
		if op.WorkID == nil || op.Amount == nil {
			return domain.Auction{}, backoff.Permanent(fmt.Errorf("start op %s lacks work or price", op.ID))
		}
		endTime := now.Add(time.Duration(op.DurationSeconds) * time.Second)
		if st.EndTimeMillis > 0 {
			endTime = time.UnixMilli(int64(st.EndTimeMillis)).UTC()
		}
		a := domain.Auction{
			AuctionID:    int64(st.AuctionID),
			WorkID:       *op.WorkID,
			SellerID:     op.ActorID,
			StartPrice:   *op.Amount,
			CurrentPrice: *op.Amount,
			EndTime:      endTime.Format(time.RFC3339),
			Status:       domain.AuctionActive,
			StartTxHash:  txHash,
			LastTxHash:   txHash,
			CreatedAt:    stamp,
			UpdatedAt:    stamp,
		}
		if err := e.Repo.SetWorkOnAuctionTx(ctx, tx, a.WorkID, true, stamp); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Auction{}, backoff.Permanent(fmt.Errorf("work %d not projected", a.WorkID))
			}
			return domain.Auction{}, err
		}
		if err := e.Repo.InsertAuctionTx(ctx, tx, a); err != nil {
			return domain.Auction{}, fmt.Errorf("insert auction: %w", err)
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type:       events.AuctionStarted,
			EntityKind: events.EntityAuction,
			EntityID:   strconv.FormatInt(a.AuctionID, 10),
			ActorID:    strconv.FormatInt(op.ActorID, 10),
			TxHash:     txHash,
			Payload:    events.EventPayload{"work_id": a.WorkID, "start_price": a.StartPrice.String(), "end_time": a.EndTime},
		}); err != nil {
			return domain.Auction{}, err
		}
		if err := e.Repo.MarkLedgerOpReconciledTx(ctx, tx, op.ID, txHash, stamp); err != nil {
			return domain.Auction{}, err
		}
		return a, tx.Commit()
	})
}

// projectBid applies an accepted bid. Accepted bids on one auction strictly
// increase in ledger order, so a bid at or below the committed price was
// superseded by a later one and only its log row is added.
//
// observed is the price the bid was validated against. The first price
// update is conditional on it; once it fails, later attempts compare against
// the row they re-read. A nil observed starts from the re-read row.
func (e Engine) projectBid(ctx context.Context, op domain.LedgerOp, txHash string, observed *domain.Amount) (domain.Auction, error) {
	expected := observed
	return retryProjection(ctx, e, op, txHash, func() (domain.Auction, error) {
		if op.AuctionID == nil || op.Amount == nil {
			return domain.Auction{}, backoff.Permanent(fmt.Errorf("bid op %s lacks auction or amount", op.ID))
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.Auction{}, err
		}
		defer tx.Rollback()

		stamp := e.stamp()
		a, err := e.Repo.GetAuctionTx(ctx, tx, *op.AuctionID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Auction{}, backoff.Permanent(fmt.Errorf("auction %d not projected", *op.AuctionID))
		}
		if err != nil {
			return domain.Auction{}, err
		}
		exists, err := e.Repo.BidExistsTx(ctx, tx, txHash)
		if err != nil {
			return domain.Auction{}, err
		}
		if exists {
			if err := e.Repo.MarkLedgerOpReconciledTx(ctx, tx, op.ID, txHash, stamp); err != nil {
				return domain.Auction{}, err
			}
			return a, tx.Commit()
		}
		amount := *op.Amount
		superseded := !amount.GreaterThan(a.CurrentPrice)
		if !superseded {
			prev := a.CurrentPrice
			if expected != nil {
				prev = *expected
			}
			ok, err := e.Repo.CompareAndSetPriceTx(ctx, tx, a.AuctionID, prev, amount, op.ActorID, txHash, stamp)
			if err != nil {
				return domain.Auction{}, err
			}
			if !ok {
				expected = nil
				e.logger().Printf("auction %d: price moved from %s under bid tx=%s, retrying", a.AuctionID, prev, txHash)
				return domain.Auction{}, errPriceMoved
			}
			if op.BlockNumber == 0 {
				// no receipt position on record; the new highest bid is the latest in ledger order
				block, idx, err := e.Repo.LastBidPositionTx(ctx, tx, a.AuctionID)
				if err != nil {
					return domain.Auction{}, err
				}
				op.BlockNumber, op.TxIndex = block, idx+1
			}
			bidder := op.ActorID
			a.CurrentPrice = amount
			a.HighestBidderID = &bidder
			a.LastTxHash = txHash
			a.UpdatedAt = stamp
		}
		if _, err := e.Repo.InsertBidTx(ctx, tx, domain.Bid{
			AuctionID:   a.AuctionID,
			BidderID:    op.ActorID,
			Amount:      amount,
			TxHash:      txHash,
			BlockNumber: op.BlockNumber,
			TxIndex:     op.TxIndex,
			CreatedAt:   stamp,
		}); err != nil {
			return domain.Auction{}, fmt.Errorf("insert bid: %w", err)
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type:       events.BidPlaced,
			EntityKind: events.EntityAuction,
			EntityID:   strconv.FormatInt(a.AuctionID, 10),
			ActorID:    strconv.FormatInt(op.ActorID, 10),
			TxHash:     txHash,
			Payload:    events.EventPayload{"amount": amount.String(), "current_price": a.CurrentPrice.String(), "superseded": superseded},
		}); err != nil {
			return domain.Auction{}, err
		}
		if err := e.Repo.MarkLedgerOpReconciledTx(ctx, tx, op.ID, txHash, stamp); err != nil {
			return domain.Auction{}, err
		}
		return a, tx.Commit()
	})
}

// projectEnd closes the projected auction. winner overrides the projection's
// highest bidder when the ledger named one.
func (e Engine) projectEnd(ctx context.Context, op domain.LedgerOp, txHash string, winner *int64) (domain.Auction, error) {
	return retryProjection(ctx, e, op, txHash, func() (domain.Auction, error) {
		if op.AuctionID == nil {
			return domain.Auction{}, backoff.Permanent(fmt.Errorf("end op %s lacks auction", op.ID))
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.Auction{}, err
		}
		defer tx.Rollback()

		stamp := e.stamp()
		if a, err := e.Repo.AuctionByEndTxTx(ctx, tx, txHash); err == nil {
			if err := e.Repo.MarkLedgerOpReconciledTx(ctx, tx, op.ID, txHash, stamp); err != nil {
				return domain.Auction{}, err
			}
			return a, tx.Commit()
		} else if !errors.Is(err, repo.ErrNotFound) {
			return domain.Auction{}, err
		}
		a, err := e.Repo.GetAuctionTx(ctx, tx, *op.AuctionID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Auction{}, backoff.Permanent(fmt.Errorf("auction %d not projected", *op.AuctionID))
		}
		if err != nil {
			return domain.Auction{}, err
		}
		if winner == nil {
			winner = a.HighestBidderID
		}
		ok, err := e.Repo.EndAuctionTx(ctx, tx, a.AuctionID, winner, txHash, stamp)
		if err != nil {
			return domain.Auction{}, err
		}
		if !ok {
			return domain.Auction{}, backoff.Permanent(fmt.Errorf("auction %d already ended", a.AuctionID))
		}
		if winner != nil {
			err = e.Repo.TransferWorkTx(ctx, tx, a.WorkID, *winner, stamp)
		} else {
			err = e.Repo.SetWorkOnAuctionTx(ctx, tx, a.WorkID, false, stamp)
		}
		if err != nil {
			return domain.Auction{}, fmt.Errorf("update work %d: %w", a.WorkID, err)
		}
		payload := events.EventPayload{"work_id": a.WorkID, "final_price": a.CurrentPrice.String()}
		if winner != nil {
			payload["winner_id"] = *winner
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type:       events.AuctionEnded,
			EntityKind: events.EntityAuction,
			EntityID:   strconv.FormatInt(a.AuctionID, 10),
			ActorID:    strconv.FormatInt(op.ActorID, 10),
			TxHash:     txHash,
			Payload:    payload,
		}); err != nil {
			return domain.Auction{}, err
		}
		if err := e.Repo.MarkLedgerOpReconciledTx(ctx, tx, op.ID, txHash, stamp); err != nil {
			return domain.Auction{}, err
		}
		a.Status = domain.AuctionEnded
		a.HighestBidderID = winner
		a.EndTxHash = &txHash
		a.LastTxHash = txHash
		a.UpdatedAt = stamp
		return a, tx.Commit()
	})
}

// publish is fire-and-forget; a failed notification never fails the bid.
func (e Engine) publish(ctx context.Context, a domain.Auction) {
	if e.Bus == nil || a.HighestBidderID == nil {
		return
	}
	evt := notify.BidEvent{AuctionID: a.AuctionID, CurrentPrice: a.CurrentPrice, BuyerID: *a.HighestBidderID}
	if err := e.Bus.Publish(ctx, evt); err != nil {
		e.logger().Printf("notify: auction %d: %v", a.AuctionID, err)
	}
}
