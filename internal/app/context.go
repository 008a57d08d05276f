package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"copyauction/internal/config"
	"copyauction/internal/db"
	"copyauction/internal/domain"
	"copyauction/internal/engine"
	"copyauction/internal/ledger"
	"copyauction/internal/ledger/httpgw"
	"copyauction/internal/ledger/memledger"
	"copyauction/internal/migrate"
	"copyauction/internal/notify"
	"copyauction/internal/repo"
)

// Runtime is everything a command needs: the migrated projection, the ledger
// gateway, the notification bus and the engine wired over them.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Hub    *notify.Hub
	Broker *notify.Publisher
}

// Options select optional parts of the runtime.
type Options struct {
	// WithBroker dials the AMQP exchange when one is configured.
	WithBroker bool
	Logger     *log.Logger
}

// Open builds a Runtime for workspace.
func Open(ctx context.Context, workspace string, cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMillis: cfg.Projection.BusyTimeoutMillis})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}
	gw, err := NewGateway(ctx, cfg.Ledger, r)
	if err != nil {
		conn.Close()
		return nil, err
	}
	rt := &Runtime{DB: conn, Config: cfg, Hub: notify.NewHub(logger)}
	buses := notify.Multi{rt.Hub}
	if opts.WithBroker && cfg.Notify.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			rt.Hub.Close()
			conn.Close()
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		rt.Broker = pub
		buses = append(buses, pub)
	}
	rt.Engine = engine.New(conn, cfg, gw, buses)
	rt.Engine.Logger = logger
	return rt, nil
}

func (rt *Runtime) Close() error {
	rt.Hub.Close()
	if rt.Broker != nil {
		if err := rt.Broker.Close(); err != nil {
			log.Printf("close broker: %v", err)
		}
	}
	return rt.DB.Close()
}

// NewGateway returns the ledger gateway selected by cfg.Driver. The memory
// driver is seeded from the projection so restarts keep auction ids and
// ownership consistent.
func NewGateway(ctx context.Context, cfg config.Ledger, r repo.Repo) (ledger.Gateway, error) {
	switch cfg.Driver {
	case "http":
		var abi json.RawMessage
		if cfg.ABIFile != "" {
			data, err := os.ReadFile(cfg.ABIFile)
			if err != nil {
				return nil, fmt.Errorf("read abi: %w", err)
			}
			if !json.Valid(data) {
				return nil, fmt.Errorf("abi file %s is not valid json", cfg.ABIFile)
			}
			abi = data
		}
		return httpgw.New(httpgw.Config{
			URL:             cfg.URL,
			ContractAddress: cfg.ContractAddress,
			GroupID:         cfg.GroupID,
			ABI:             abi,
			SuccessStatus:   cfg.SuccessStatus,
			Timeout:         cfg.Timeout(),
		})
	case "memory", "":
		led := memledger.New()
		if err := SeedMemoryLedger(ctx, led, r); err != nil {
			return nil, fmt.Errorf("seed memory ledger: %w", err)
		}
		return led, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// SeedMemoryLedger registers every projected work under its owner's address
// and restores every projected auction.
func SeedMemoryLedger(ctx context.Context, led *memledger.Ledger, r repo.Repo) error {
	users, err := r.ListUsers(ctx)
	if err != nil {
		return err
	}
	addrs := make(map[int64]string, len(users))
	for _, u := range users {
		if u.LedgerAddress != nil {
			addrs[u.ID] = *u.LedgerAddress
		}
	}
	works, err := r.ListWorks(ctx, 0)
	if err != nil {
		return err
	}
	for _, w := range works {
		if addr, ok := addrs[w.OwnerID]; ok {
			led.RegisterWork(uint64(w.WorkID), addr)
		}
	}
	auctions, err := r.ListAuctions(ctx, "", 0)
	if err != nil {
		return err
	}
	for _, a := range auctions {
		st := ledger.AuctionState{
			AuctionID:  uint64(a.AuctionID),
			WorkID:     uint64(a.WorkID),
			Seller:     addrs[a.SellerID],
			StartPrice: a.StartPrice.Big(),
			HighestBid: a.CurrentPrice.Big(),
			Ended:      a.Status == domain.AuctionEnded,
		}
		if a.HighestBidderID != nil {
			st.HighestBidder = addrs[*a.HighestBidderID]
		}
		if end, err := time.Parse(time.RFC3339, a.EndTime); err == nil {
			st.EndTimeMillis = uint64(end.UnixMilli())
		}
		led.Restore(st)
	}
	return nil
}
