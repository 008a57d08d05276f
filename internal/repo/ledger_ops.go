package repo

import (
	"context"
	"database/sql"
	"strings"

	"copyauction/internal/domain"
)

const ledgerOpColumns = `id,kind,status,tx_hash,auction_id,work_id,actor_id,amount,duration_seconds,block_number,tx_index,COALESCE(error,''),attempts,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerOp(row rowScanner) (domain.LedgerOp, error) {
	var op domain.LedgerOp
	var txHash, amount sql.NullString
	var auctionID, workID sql.NullInt64
	var block, idx int64
	err := row.Scan(&op.ID, &op.Kind, &op.Status, &txHash, &auctionID, &workID, &op.ActorID, &amount, &op.DurationSeconds,
		&block, &idx, &op.Error, &op.Attempts, &op.CreatedAt, &op.UpdatedAt)
	if err == sql.ErrNoRows {
		return op, ErrNotFound
	}
	if err != nil {
		return op, err
	}
	op.BlockNumber, op.TxIndex = uint64(block), uint64(idx)
	if txHash.Valid {
		op.TxHash = &txHash.String
	}
	if auctionID.Valid {
		op.AuctionID = &auctionID.Int64
	}
	if workID.Valid {
		op.WorkID = &workID.Int64
	}
	if amount.Valid {
		a, err := domain.ParseAmount(amount.String)
		if err != nil {
			return op, err
		}
		op.Amount = &a
	}
	return op, nil
}

// InsertLedgerOp journals a mutating ledger call before it is submitted.
func (r Repo) InsertLedgerOp(ctx context.Context, op domain.LedgerOp) error {
	var amount any
	if op.Amount != nil {
		amount = op.Amount.String()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO ledger_ops(id,kind,status,tx_hash,auction_id,work_id,actor_id,amount,duration_seconds,block_number,tx_index,error,attempts,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		op.ID, op.Kind, op.Status, nullableStrPtr(op.TxHash), nullableInt64Ptr(op.AuctionID), nullableInt64Ptr(op.WorkID), op.ActorID, amount,
		op.DurationSeconds, int64(op.BlockNumber), int64(op.TxIndex), nullable(op.Error), op.Attempts, op.CreatedAt, op.UpdatedAt)
	return err
}

func (r Repo) GetLedgerOp(ctx context.Context, id string) (domain.LedgerOp, error) {
	return scanLedgerOp(r.DB.QueryRowContext(ctx, `SELECT `+ledgerOpColumns+` FROM ledger_ops WHERE id=?`, id))
}

func (r Repo) GetLedgerOpTx(ctx context.Context, tx *sql.Tx, id string) (domain.LedgerOp, error) {
	return scanLedgerOp(tx.QueryRowContext(ctx, `SELECT `+ledgerOpColumns+` FROM ledger_ops WHERE id=?`, id))
}

// ConfirmLedgerOp records the receipt of an accepted call.
func (r Repo) ConfirmLedgerOp(ctx context.Context, id, txHash string, block, txIndex uint64, now string) error {
	return execOne(ctx, r.DB, `UPDATE ledger_ops SET status='confirmed', tx_hash=?, block_number=?, tx_index=?, updated_at=? WHERE id=?`,
		txHash, int64(block), int64(txIndex), now, id)
}

// SetLedgerOpAuction fills in the ledger-assigned auction id of a start op.
func (r Repo) SetLedgerOpAuction(ctx context.Context, id string, auctionID int64, now string) error {
	return execOne(ctx, r.DB, `UPDATE ledger_ops SET auction_id=?, updated_at=? WHERE id=?`, auctionID, now, id)
}

func (r Repo) FailLedgerOp(ctx context.Context, id, txHash, reason, now string) error {
	return execOne(ctx, r.DB, `UPDATE ledger_ops SET status='failed', tx_hash=?, error=?, updated_at=? WHERE id=?`,
		nullable(txHash), nullable(reason), now, id)
}

func (r Repo) MarkLedgerOpUnknown(ctx context.Context, id, reason, now string) error {
	return execOne(ctx, r.DB, `UPDATE ledger_ops SET status='unknown', error=?, updated_at=? WHERE id=?`, nullable(reason), now, id)
}

// NoteLedgerOpAttempt counts a failed projection attempt of an op the ledger
// accepted. An op whose confirmation was never written is confirmed here
// under txHash so the reconciler can replay it.
func (r Repo) NoteLedgerOpAttempt(ctx context.Context, id, txHash, reason, now string) error {
	hash := nullable(txHash)
	return execOne(ctx, r.DB, `UPDATE ledger_ops SET
status=CASE WHEN status IN ('submitted','unknown') AND ? IS NOT NULL THEN 'confirmed' ELSE status END,
tx_hash=COALESCE(tx_hash, ?), attempts=attempts+1, error=?, updated_at=? WHERE id=?`,
		hash, hash, nullable(reason), now, id)
}

// ResolveLedgerOp confirms a submitted or unknown op that a ledger read shows
// was applied. txHash only fills a missing hash.
func (r Repo) ResolveLedgerOp(ctx context.Context, id, txHash, now string) error {
	return execOne(ctx, r.DB, `UPDATE ledger_ops SET status='confirmed', tx_hash=COALESCE(tx_hash, ?), error=NULL, updated_at=?
WHERE id=? AND status IN ('submitted','unknown')`, txHash, now, id)
}

// MarkLedgerOpReconciledTx closes the op in the projection transaction that
// applied it.
func (r Repo) MarkLedgerOpReconciledTx(ctx context.Context, tx *sql.Tx, id, txHash, now string) error {
	return execOne(ctx, tx, `UPDATE ledger_ops SET status='reconciled', tx_hash=?, error=NULL, updated_at=? WHERE id=?`, txHash, now, id)
}

type LedgerOpFilters struct {
	Status domain.LedgerOpStatus
	Kind   domain.LedgerOpKind
	// Before keeps ops last updated at or before this timestamp.
	Before string
	Limit  int
}

// ListLedgerOps returns journal rows oldest first.
func (r Repo) ListLedgerOps(ctx context.Context, f LedgerOpFilters) ([]domain.LedgerOp, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	if f.Before != "" {
		clauses = append(clauses, "updated_at<=?")
		args = append(args, f.Before)
	}
	query := `SELECT ` + ledgerOpColumns + ` FROM ledger_ops WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerOp
	for rows.Next() {
		op, err := scanLedgerOp(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, op)
	}
	return res, rows.Err()
}
