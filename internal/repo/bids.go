package repo

import (
	"context"
	"database/sql"

	"copyauction/internal/domain"
)

// InsertBidTx appends a bid row. tx_hash is unique, so a replayed bid fails
// instead of duplicating history.
func (r Repo) InsertBidTx(ctx context.Context, tx *sql.Tx, b domain.Bid) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO bids(auction_id,bidder_id,amount,tx_hash,block_number,tx_index,created_at) VALUES (?,?,?,?,?,?,?)`,
		b.AuctionID, b.BidderID, b.Amount, b.TxHash, int64(b.BlockNumber), int64(b.TxIndex), b.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) BidExistsTx(ctx context.Context, tx *sql.Tx, txHash string) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM bids WHERE tx_hash=?`, txHash).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastBidPositionTx returns the ledger position of the latest logged bid of an
// auction, or zeros when none is logged.
func (r Repo) LastBidPositionTx(ctx context.Context, tx *sql.Tx, auctionID int64) (block, txIndex uint64, err error) {
	var b, i int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(block_number),0) FROM bids WHERE auction_id=?`, auctionID).Scan(&b)
	if err != nil {
		return 0, 0, err
	}
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(tx_index),0) FROM bids WHERE auction_id=? AND block_number=?`, auctionID, b).Scan(&i)
	if err != nil {
		return 0, 0, err
	}
	return uint64(b), uint64(i), nil
}

// ListBids returns the bid log of an auction in ledger order, oldest first.
func (r Repo) ListBids(ctx context.Context, auctionID int64) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,auction_id,bidder_id,amount,tx_hash,block_number,tx_index,created_at
FROM bids WHERE auction_id=? ORDER BY block_number ASC, tx_index ASC, created_at ASC, id ASC`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var block, idx int64
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.TxHash, &block, &idx, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.BlockNumber, b.TxIndex = uint64(block), uint64(idx)
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListBidViews returns the bid history of an auction most recent first, with
// bidder usernames.
func (r Repo) ListBidViews(ctx context.Context, auctionID int64) ([]domain.BidView, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT b.bidder_id,COALESCE(u.username,''),b.amount,b.tx_hash,b.created_at
FROM bids b LEFT JOIN users u ON u.id=b.bidder_id
WHERE b.auction_id=?
ORDER BY b.block_number DESC, b.tx_index DESC, b.created_at DESC, b.id DESC`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.BidView{}
	for rows.Next() {
		var v domain.BidView
		if err := rows.Scan(&v.BidderID, &v.BidderUsername, &v.Amount, &v.TxHash, &v.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
