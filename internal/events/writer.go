package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded alongside projection changes.
const (
	AuctionStarted = "auction.started"
	BidPlaced      = "bid.placed"
	AuctionEnded   = "auction.ended"
	OpReconciled   = "ledger_op.reconciled"
	EntityAuction  = "auction"
	EntityLedgerOp = "ledger_op"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one audit row. TxHash ties it to the ledger transaction that
// caused the projection change.
type Entry struct {
	Type       string
	EntityKind string
	EntityID   string
	ActorID    string
	TxHash     string
	Payload    EventPayload
}

// Append writes e inside tx so the audit row commits with the projection change.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,tx_hash,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, e.EntityKind, nullable(e.EntityID), e.ActorID, nullable(e.TxHash), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
