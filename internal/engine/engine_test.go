package engine_test

import (
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"sync"
	"testing"
	"time"

	"copyauction/internal/config"
	"copyauction/internal/db"
	"copyauction/internal/domain"
	"copyauction/internal/engine"
	"copyauction/internal/ledger"
	"copyauction/internal/ledger/memledger"
	"copyauction/internal/migrate"
	"copyauction/internal/notify"
	"copyauction/internal/repo"
)

const (
	aliceAddr = "0xa11ce"
	bobAddr   = "0xb0b"
	carolAddr = "0xca201"
	workID    = int64(42)
)

type recordingBus struct {
	mu  sync.Mutex
	got []notify.BidEvent
}

func (b *recordingBus) Publish(ctx context.Context, evt notify.BidEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, evt)
	return nil
}

func (b *recordingBus) events() []notify.BidEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notify.BidEvent(nil), b.got...)
}

type testEnv struct {
	Engine engine.Engine
	Ledger *memledger.Ledger
	Bus    *recordingBus
	Ctx    context.Context
	Alice  domain.User
	Bob    domain.User
	Carol  domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Projection.CASMaxAttempts = 2
	cfg.Reconcile.GraceSeconds = 0
	led := memledger.New()
	bus := &recordingBus{}
	eng := engine.New(conn, cfg, led, bus)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Logger = log.New(io.Discard, "", 0)
	env := testEnv{Engine: eng, Ledger: led, Bus: bus, Ctx: context.Background()}
	env.Alice = env.addUser(t, "alice@example.com", "alice", aliceAddr)
	env.Bob = env.addUser(t, "bob@example.com", "bob", bobAddr)
	env.Carol = env.addUser(t, "carol@example.com", "carol", carolAddr)
	env.addWork(t, workID, env.Alice, "cert-42")
	return env
}

func (env testEnv) addUser(t *testing.T, email, name, addr string) domain.User {
	t.Helper()
	u := domain.User{Email: email, Username: name, Status: domain.UserActive, CreatedAt: "2024-01-01T00:00:00Z"}
	if addr != "" {
		u.LedgerAddress = &addr
	}
	id, err := env.Engine.Repo.InsertUser(env.Ctx, u)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	u.ID = id
	return u
}

func (env testEnv) addWork(t *testing.T, id int64, owner domain.User, copyright string) {
	t.Helper()
	w := domain.Work{WorkID: id, OwnerID: owner.ID, Title: "Sunrise", Category: "photo", CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z"}
	if copyright != "" {
		w.CopyrightID = &copyright
	}
	if err := env.Engine.Repo.InsertWork(env.Ctx, w); err != nil {
		t.Fatalf("insert work: %v", err)
	}
	if owner.LedgerAddress != nil {
		env.Ledger.RegisterWork(uint64(id), *owner.LedgerAddress)
	}
}

func (env testEnv) start(t *testing.T) domain.Auction {
	t.Helper()
	a, err := env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{
		Email: env.Alice.Email, WorkID: workID, StartPrice: domain.NewAmount(100), DurationSeconds: 3600,
	})
	if err != nil {
		t.Fatalf("start auction: %v", err)
	}
	return a
}

func (env testEnv) bid(t *testing.T, who domain.User, auctionID, amount int64) domain.Auction {
	t.Helper()
	a, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: who.Email, AuctionID: auctionID, Amount: domain.NewAmount(amount)})
	if err != nil {
		t.Fatalf("bid %d by %s: %v", amount, who.Username, err)
	}
	return a
}

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	var pe engine.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected precondition %s, got %v", code, err)
	}
	if pe.Code != code {
		t.Fatalf("expected precondition %s, got %s (%s)", code, pe.Code, pe.Message)
	}
}

func ledgerOps(t *testing.T, env testEnv, status domain.LedgerOpStatus) []domain.LedgerOp {
	t.Helper()
	ops, err := env.Engine.Repo.ListLedgerOps(env.Ctx, repo.LedgerOpFilters{Status: status})
	if err != nil {
		t.Fatalf("list ops: %v", err)
	}
	return ops
}

func TestStartAuction(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	if a.AuctionID != 1 {
		t.Fatalf("expected ledger-assigned id 1, got %d", a.AuctionID)
	}
	if a.Status != domain.AuctionActive || a.CurrentPrice.String() != "100" || a.HighestBidderID != nil {
		t.Fatalf("unexpected auction %+v", a)
	}
	w, err := env.Engine.Repo.GetWork(env.Ctx, workID)
	if err != nil || !w.IsOnAuction {
		t.Fatalf("work not on auction: %+v %v", w, err)
	}
	if ops := ledgerOps(t, env, domain.OpReconciled); len(ops) != 1 || ops[0].TxHash == nil || *ops[0].TxHash != a.StartTxHash {
		t.Fatalf("expected one reconciled start op, got %+v", ops)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "auction.started"})
	if err != nil || len(evts) != 1 || evts[0].TxHash != a.StartTxHash {
		t.Fatalf("expected audit event, got %+v %v", evts, err)
	}
	if got := env.Bus.events(); len(got) != 0 {
		t.Fatalf("start must not notify, got %+v", got)
	}
}

func TestStartPreconditions(t *testing.T) {
	env := newTestEnv(t)
	env.addWork(t, 7, env.Alice, "")
	_, err := env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{Email: env.Alice.Email, WorkID: 7, StartPrice: domain.NewAmount(1), DurationSeconds: 60})
	expectCode(t, err, engine.CodeCopyrightMissing)

	_, err = env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{Email: env.Bob.Email, WorkID: workID, StartPrice: domain.NewAmount(1), DurationSeconds: 60})
	expectCode(t, err, engine.CodeNotWorkOwner)

	_, err = env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{Email: "nobody@example.com", WorkID: workID, StartPrice: domain.NewAmount(1), DurationSeconds: 60})
	expectCode(t, err, engine.CodeUserNotFound)

	_, err = env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{Email: env.Alice.Email, WorkID: 999, StartPrice: domain.NewAmount(1), DurationSeconds: 60})
	expectCode(t, err, engine.CodeWorkNotFound)

	_, err = env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{Email: env.Alice.Email, WorkID: workID, StartPrice: domain.NewAmount(1)})
	expectCode(t, err, engine.CodeInvalidArgument)

	env.start(t)
	_, err = env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{Email: env.Alice.Email, WorkID: workID, StartPrice: domain.NewAmount(1), DurationSeconds: 60})
	expectCode(t, err, engine.CodeWorkOnAuction)

	if n, _ := env.Ledger.AuctionCounter(env.Ctx); n != 1 {
		t.Fatalf("rejected starts must not reach the ledger, counter=%d", n)
	}
}

func TestPlaceBid(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	got := env.bid(t, env.Bob, a.AuctionID, 120)
	if got.CurrentPrice.String() != "120" || got.HighestBidderID == nil || *got.HighestBidderID != env.Bob.ID {
		t.Fatalf("unexpected auction after bid %+v", got)
	}
	bids, err := env.Engine.Repo.ListBids(env.Ctx, a.AuctionID)
	if err != nil || len(bids) != 1 || bids[0].Amount.String() != "120" {
		t.Fatalf("expected one bid row, got %+v %v", bids, err)
	}
	evts := env.Bus.events()
	if len(evts) != 1 || evts[0].AuctionID != a.AuctionID || evts[0].CurrentPrice.String() != "120" || evts[0].BuyerID != env.Bob.ID {
		t.Fatalf("unexpected notifications %+v", evts)
	}
}

func TestBidRejections(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	env.bid(t, env.Bob, a.AuctionID, 120)

	_, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Carol.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(120)})
	expectCode(t, err, engine.CodeBidTooLow)

	_, err = env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Alice.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(500)})
	expectCode(t, err, engine.CodeOwnerCannotBid)

	_, err = env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Carol.Email, AuctionID: 99, Amount: domain.NewAmount(500)})
	expectCode(t, err, engine.CodeAuctionNotFound)

	dave := env.addUser(t, "dave@example.com", "dave", "")
	_, err = env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: dave.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(500)})
	expectCode(t, err, engine.CodeLedgerAddressMissing)

	if err := env.Engine.Repo.SetUserStatus(env.Ctx, env.Carol.ID, domain.UserDisabled); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Carol.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(500)})
	expectCode(t, err, engine.CodeUserInactive)

	st, err := env.Ledger.Auction(env.Ctx, uint64(a.AuctionID))
	if err != nil || st.HighestBid.String() != "120" {
		t.Fatalf("rejected bids must not reach the ledger: %+v %v", st, err)
	}
}

func TestLedgerRejectionWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	// the ledger is ahead of the projection
	if _, err := env.Ledger.PlaceBid(env.Ctx, ledger.CallOpts{From: carolAddr}, uint64(a.AuctionID), big.NewInt(150)); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Bob.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(120)})
	var le engine.LedgerError
	if !errors.As(err, &le) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if le.Reason == "" || le.TxHash == "" {
		t.Fatalf("expected decoded revert reason and tx hash, got %+v", le)
	}
	got, err := env.Engine.Repo.GetAuction(env.Ctx, a.AuctionID)
	if err != nil || got.CurrentPrice.String() != "100" || got.HighestBidderID != nil {
		t.Fatalf("projection changed after rejection: %+v %v", got, err)
	}
	if bids, _ := env.Engine.Repo.ListBids(env.Ctx, a.AuctionID); len(bids) != 0 {
		t.Fatalf("expected no bid rows, got %+v", bids)
	}
	if ops := ledgerOps(t, env, domain.OpFailed); len(ops) != 1 {
		t.Fatalf("expected one failed op, got %+v", ops)
	}
	if len(env.Bus.events()) != 0 {
		t.Fatalf("rejected bid must not notify")
	}
}

func TestEndAuctionTransfersWork(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	env.bid(t, env.Bob, a.AuctionID, 120)
	env.bid(t, env.Carol, a.AuctionID, 130)

	_, err := env.Engine.EndAuction(env.Ctx, engine.EndAuctionRequest{Email: env.Bob.Email, AuctionID: a.AuctionID})
	expectCode(t, err, engine.CodeNotSeller)

	ended, err := env.Engine.EndAuction(env.Ctx, engine.EndAuctionRequest{Email: env.Alice.Email, AuctionID: a.AuctionID})
	if err != nil {
		t.Fatalf("end auction: %v", err)
	}
	if ended.Status != domain.AuctionEnded || ended.EndTxHash == nil {
		t.Fatalf("unexpected ended auction %+v", ended)
	}
	w, err := env.Engine.Repo.GetWork(env.Ctx, workID)
	if err != nil || w.OwnerID != env.Carol.ID || w.IsOnAuction {
		t.Fatalf("work not transferred to winner: %+v %v", w, err)
	}
	if owner, _ := env.Ledger.Owner(uint64(workID)); owner != carolAddr {
		t.Fatalf("ledger owner %s", owner)
	}

	_, err = env.Engine.EndAuction(env.Ctx, engine.EndAuctionRequest{Email: env.Alice.Email, AuctionID: a.AuctionID})
	expectCode(t, err, engine.CodeAuctionNotActive)

	_, err = env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Bob.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(999)})
	expectCode(t, err, engine.CodeAuctionNotActive)
}

func TestEndWithoutBidsIsRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	_, err := env.Engine.EndAuction(env.Ctx, engine.EndAuctionRequest{Email: env.Alice.Email, AuctionID: a.AuctionID})
	expectCode(t, err, engine.CodeNoBids)
}

func TestUnknownOutcome(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	env.Ledger.Intercept = func(ctx context.Context, call memledger.Call) error {
		return ledger.UnknownOutcome(call.Func, errors.New("read timeout"))
	}
	_, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Bob.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(120)})
	var ue engine.UnknownOutcomeError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unknown outcome, got %v", err)
	}
	ops := ledgerOps(t, env, domain.OpUnknown)
	if len(ops) != 1 || ops[0].ID != ue.OpID {
		t.Fatalf("expected op %s unknown, got %+v", ue.OpID, ops)
	}
	env.Ledger.Intercept = nil
	status, err := env.Engine.LedgerAuctionStatus(env.Ctx, a.AuctionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.OnLedger || !status.InSync || status.HighestBid.String() != "100" {
		t.Fatalf("unexpected status %+v", status)
	}
}

// holdingGateway sequences the held bid first but returns its receipt only
// after release is closed.
type holdingGateway struct {
	*memledger.Ledger
	hold      *big.Int
	sequenced chan struct{}
	release   chan struct{}
}

func (g *holdingGateway) PlaceBid(ctx context.Context, opts ledger.CallOpts, auctionID uint64, amount *big.Int) (ledger.Receipt, error) {
	if amount.Cmp(g.hold) == 0 {
		rec, err := g.Ledger.PlaceBid(ctx, opts, auctionID, amount)
		close(g.sequenced)
		<-g.release
		return rec, err
	}
	<-g.sequenced
	return g.Ledger.PlaceBid(ctx, opts, auctionID, amount)
}

func TestConcurrentBidsConvergeToLedgerOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	gw := &holdingGateway{Ledger: env.Ledger, hold: big.NewInt(120), sequenced: make(chan struct{}), release: make(chan struct{})}
	eng := env.Engine
	eng.Ledger = gw

	slow := make(chan error, 1)
	go func() {
		_, err := eng.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Bob.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(120)})
		slow <- err
	}()
	fast, err := eng.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Carol.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(130)})
	if err != nil {
		t.Fatalf("fast bid: %v", err)
	}
	if fast.CurrentPrice.String() != "130" {
		t.Fatalf("fast bid price %s", fast.CurrentPrice)
	}
	close(gw.release)
	if err := <-slow; err != nil {
		t.Fatalf("slow bid: %v", err)
	}

	got, err := env.Engine.Repo.GetAuction(env.Ctx, a.AuctionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentPrice.String() != "130" || *got.HighestBidderID != env.Carol.ID {
		t.Fatalf("projection diverged from ledger: %+v", got)
	}
	bids, err := env.Engine.Repo.ListBids(env.Ctx, a.AuctionID)
	if err != nil || len(bids) != 2 {
		t.Fatalf("expected both bids logged, got %+v %v", bids, err)
	}
	if bids[0].Amount.String() != "120" || bids[1].Amount.String() != "130" {
		t.Fatalf("bid log not in ledger order: %s, %s", bids[0].Amount, bids[1].Amount)
	}
	for _, evt := range env.Bus.events() {
		if evt.CurrentPrice.String() != "130" || evt.BuyerID != env.Carol.ID {
			t.Fatalf("notification carried a stale price: %+v", evt)
		}
	}
}

func TestReconcileReplaysConfirmedBid(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_bids BEFORE INSERT ON bids BEGIN SELECT RAISE(ABORT, 'projection down'); END`); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Bob.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(150)})
	var re engine.ReconciliationError
	if !errors.As(err, &re) || re.TxHash == "" {
		t.Fatalf("expected reconciliation error with tx hash, got %v", err)
	}
	got, _ := env.Engine.Repo.GetAuction(env.Ctx, a.AuctionID)
	if got.CurrentPrice.String() != "100" {
		t.Fatalf("partial projection committed: %+v", got)
	}
	ops := ledgerOps(t, env, domain.OpConfirmed)
	if len(ops) != 1 || ops[0].ID != re.OpID || ops[0].Attempts == 0 {
		t.Fatalf("expected confirmed op with attempts, got %+v", ops)
	}

	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TRIGGER fail_bids`); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.ReconcilePending(env.Ctx, 0)
	if err != nil || report.Reconciled != 1 || report.Failed != 0 {
		t.Fatalf("reconcile pending: %+v %v", report, err)
	}
	got, _ = env.Engine.Repo.GetAuction(env.Ctx, a.AuctionID)
	if got.CurrentPrice.String() != "150" || *got.HighestBidderID != env.Bob.ID {
		t.Fatalf("bid not replayed: %+v", got)
	}

	op, err := env.Engine.ReconcileOp(env.Ctx, re.OpID)
	if err != nil || op.Status != domain.OpReconciled {
		t.Fatalf("second replay: %+v %v", op, err)
	}
	bids, _ := env.Engine.Repo.ListBids(env.Ctx, a.AuctionID)
	if len(bids) != 1 {
		t.Fatalf("replay duplicated bid rows: %+v", bids)
	}
	replays, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: "ledger_op.reconciled"})
	if err != nil || len(replays) != 1 || replays[0].EntityID != re.OpID {
		t.Fatalf("expected one replay audit row, got %+v %v", replays, err)
	}
	if evts := env.Bus.events(); len(evts) != 1 || evts[0].CurrentPrice.String() != "150" {
		t.Fatalf("expected one notification after replay, got %+v", evts)
	}
}

func TestReconcileLocatesStartedAuction(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_auctions BEFORE INSERT ON auctions BEGIN SELECT RAISE(ABORT, 'projection down'); END`); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.StartAuction(env.Ctx, engine.StartAuctionRequest{
		Email: env.Alice.Email, WorkID: workID, StartPrice: domain.NewAmount(100), DurationSeconds: 3600,
	})
	var re engine.ReconciliationError
	if !errors.As(err, &re) {
		t.Fatalf("expected reconciliation error, got %v", err)
	}
	w, _ := env.Engine.Repo.GetWork(env.Ctx, workID)
	if w.IsOnAuction {
		t.Fatalf("work flagged on auction without an auction row")
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TRIGGER fail_auctions`); err != nil {
		t.Fatal(err)
	}
	op, err := env.Engine.ReconcileOp(env.Ctx, re.OpID)
	if err != nil || op.Status != domain.OpReconciled {
		t.Fatalf("reconcile start: %+v %v", op, err)
	}
	a, err := env.Engine.Repo.ActiveAuctionForWork(env.Ctx, workID)
	if err != nil || a.AuctionID != 1 || a.StartTxHash != re.TxHash {
		t.Fatalf("auction not projected from ledger: %+v %v", a, err)
	}
}

func TestReconcileIgnoresUnconfirmedOps(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	env.Ledger.Intercept = func(ctx context.Context, call memledger.Call) error {
		return errors.New("connection refused")
	}
	_, err := env.Engine.PlaceBid(env.Ctx, engine.PlaceBidRequest{Email: env.Bob.Email, AuctionID: a.AuctionID, Amount: domain.NewAmount(120)})
	var le engine.LedgerError
	if !errors.As(err, &le) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	failed := ledgerOps(t, env, domain.OpFailed)
	if len(failed) != 1 {
		t.Fatalf("expected failed op, got %+v", failed)
	}
	if _, err := env.Engine.ReconcileOp(env.Ctx, failed[0].ID); err == nil {
		t.Fatalf("failed ops must not be replayed")
	}
	report, err := env.Engine.ReconcilePending(env.Ctx, 10)
	if err != nil || report.Checked != 0 {
		t.Fatalf("nothing to reconcile, got %+v %v", report, err)
	}
}

func TestReadSide(t *testing.T) {
	env := newTestEnv(t)
	a := env.start(t)
	env.bid(t, env.Bob, a.AuctionID, 120)
	env.bid(t, env.Carol, a.AuctionID, 130)

	list, err := env.Engine.ListActiveAuctions(env.Ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list active: %+v %v", list, err)
	}
	if list[0].Title != "Sunrise" || list[0].SellerUsername != "alice" || list[0].CurrentPrice.String() != "130" {
		t.Fatalf("unexpected summary %+v", list[0])
	}

	d, err := env.Engine.GetAuctionDetail(env.Ctx, workID, env.Alice.Email)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if !d.IsOwner || d.CopyrightID != "cert-42" || len(d.Bids) != 2 {
		t.Fatalf("unexpected detail %+v", d)
	}
	if d.Bids[0].BidderUsername != "carol" || d.Bids[1].BidderUsername != "bob" {
		t.Fatalf("bids not most recent first: %+v", d.Bids)
	}
	d, err = env.Engine.GetAuctionDetail(env.Ctx, workID, env.Bob.Email)
	if err != nil || d.IsOwner {
		t.Fatalf("bob is not the owner: %+v %v", d, err)
	}
	_, err = env.Engine.GetAuctionDetail(env.Ctx, 999, "")
	expectCode(t, err, engine.CodeAuctionNotFound)
}
