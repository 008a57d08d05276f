package app

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"copyauction/internal/config"
	"copyauction/internal/domain"
	"copyauction/internal/engine"
	"copyauction/internal/ledger/httpgw"
	"copyauction/internal/repo"
)

func seed(t *testing.T, rt *Runtime) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []struct{ email, name, addr string }{
		{"alice@example.com", "alice", "0xa11ce"},
		{"bob@example.com", "bob", "0xb0b"},
	} {
		addr := u.addr
		_, err := rt.Engine.Repo.InsertUser(ctx, domain.User{Email: u.email, Username: u.name, Status: domain.UserActive, LedgerAddress: &addr, CreatedAt: "2024-01-01T00:00:00Z"})
		assert.NoError(t, err)
	}
	alice, err := rt.Engine.Repo.GetUserByEmail(ctx, "alice@example.com")
	assert.NoError(t, err)
	cert := "cert-7"
	assert.NoError(t, rt.Engine.Repo.InsertWork(ctx, domain.Work{
		WorkID: 7, OwnerID: alice.ID, Title: "Nocturne", CopyrightID: &cert,
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}))
}

func open(t *testing.T, dir string) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), dir, config.Default(), Options{Logger: log.New(io.Discard, "", 0)})
	assert.NoError(t, err)
	return rt
}

func TestMemoryLedgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rt := open(t, dir)
	seed(t, rt)
	rt.Close()

	// The work only reaches the in-memory ledger through seeding.
	rt = open(t, dir)
	a, err := rt.Engine.StartAuction(ctx, engine.StartAuctionRequest{Email: "alice@example.com", WorkID: 7, StartPrice: domain.NewAmount(10), DurationSeconds: 60})
	assert.NoError(t, err)
	check.Equal(t, int64(1), a.AuctionID)
	_, err = rt.Engine.PlaceBid(ctx, engine.PlaceBidRequest{Email: "bob@example.com", AuctionID: 1, Amount: domain.NewAmount(25)})
	assert.NoError(t, err)
	rt.Close()

	rt = open(t, dir)
	defer rt.Close()
	st, err := rt.Engine.LedgerAuctionStatus(ctx, 1)
	assert.NoError(t, err)
	check.True(t, st.InSync)
	check.Equal(t, "0xb0b", st.HighestBidder)

	_, err = rt.Engine.PlaceBid(ctx, engine.PlaceBidRequest{Email: "bob@example.com", AuctionID: 1, Amount: domain.NewAmount(20)})
	check.Error(t, err)

	ended, err := rt.Engine.EndAuction(ctx, engine.EndAuctionRequest{Email: "alice@example.com", AuctionID: 1})
	assert.NoError(t, err)
	check.Equal(t, domain.AuctionEnded, ended.Status)
	w, err := rt.Engine.Repo.GetWork(ctx, 7)
	assert.NoError(t, err)
	check.False(t, w.IsOnAuction)

	// bob owns the work now and starts the next auction under id 2
	next, err := rt.Engine.StartAuction(ctx, engine.StartAuctionRequest{Email: "bob@example.com", WorkID: 7, StartPrice: domain.NewAmount(30), DurationSeconds: 60})
	assert.NoError(t, err)
	check.Equal(t, int64(2), next.AuctionID)
}

func TestNewGatewayHTTPDriver(t *testing.T) {
	dir := t.TempDir()
	abi := filepath.Join(dir, "auction.abi")
	assert.NoError(t, os.WriteFile(abi, []byte(`[{"name":"placeBid","type":"function"}]`), 0o644))

	gw, err := NewGateway(context.Background(), config.Ledger{
		Driver: "http", URL: "http://127.0.0.1:5002/WeBASE-Front/trans/handle", ContractAddress: "0xc0ffee", ABIFile: abi, TimeoutSeconds: 5,
	}, repo.Repo{})
	assert.NoError(t, err)
	_, ok := gw.(*httpgw.Gateway)
	check.True(t, ok)

	assert.NoError(t, os.WriteFile(abi, []byte(`not json`), 0o644))
	_, err = NewGateway(context.Background(), config.Ledger{Driver: "http", URL: "http://x", ContractAddress: "0x1", ABIFile: abi}, repo.Repo{})
	check.Error(t, err)

	_, err = NewGateway(context.Background(), config.Ledger{Driver: "grpc"}, repo.Repo{})
	check.Error(t, err)
}
