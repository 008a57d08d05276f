package repo

import (
	"context"
	"database/sql"

	"copyauction/internal/domain"
)

const auctionColumns = `auction_id,work_id,seller_id,start_price,current_price,highest_bidder_id,end_time,status,start_tx_hash,last_tx_hash,end_tx_hash,created_at,updated_at`

func scanAuction(row *sql.Row) (domain.Auction, error) {
	var a domain.Auction
	var bidder sql.NullInt64
	var endTx sql.NullString
	err := row.Scan(&a.AuctionID, &a.WorkID, &a.SellerID, &a.StartPrice, &a.CurrentPrice, &bidder, &a.EndTime, &a.Status,
		&a.StartTxHash, &a.LastTxHash, &endTx, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if bidder.Valid {
		a.HighestBidderID = &bidder.Int64
	}
	if endTx.Valid {
		a.EndTxHash = &endTx.String
	}
	return a, err
}

func (r Repo) InsertAuctionTx(ctx context.Context, tx *sql.Tx, a domain.Auction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO auctions(`+auctionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.AuctionID, a.WorkID, a.SellerID, a.StartPrice, a.CurrentPrice, nullableInt64Ptr(a.HighestBidderID), a.EndTime, a.Status,
		a.StartTxHash, a.LastTxHash, nullableStrPtr(a.EndTxHash), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAuction(ctx context.Context, auctionID int64) (domain.Auction, error) {
	return scanAuction(r.DB.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id=?`, auctionID))
}

func (r Repo) GetAuctionTx(ctx context.Context, tx *sql.Tx, auctionID int64) (domain.Auction, error) {
	return scanAuction(tx.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id=?`, auctionID))
}

// ActiveAuctionForWork returns the single active auction of a work.
func (r Repo) ActiveAuctionForWork(ctx context.Context, workID int64) (domain.Auction, error) {
	return scanAuction(r.DB.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE work_id=? AND status='active'`, workID))
}

func (r Repo) AuctionByStartTxTx(ctx context.Context, tx *sql.Tx, txHash string) (domain.Auction, error) {
	return scanAuction(tx.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE start_tx_hash=?`, txHash))
}

func (r Repo) AuctionByEndTxTx(ctx context.Context, tx *sql.Tx, txHash string) (domain.Auction, error) {
	return scanAuction(tx.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE end_tx_hash=?`, txHash))
}

// CompareAndSetPriceTx moves current_price from observed to price. It reports
// false when another writer changed the price first. Status is not checked:
// a bid the ledger accepted before the end is still applied.
func (r Repo) CompareAndSetPriceTx(ctx context.Context, tx *sql.Tx, auctionID int64, observed, price domain.Amount, bidderID int64, txHash, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE auctions SET current_price=?, highest_bidder_id=?, last_tx_hash=?, updated_at=?
WHERE auction_id=? AND current_price=?`, price, bidderID, txHash, now, auctionID, observed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// EndAuctionTx closes an active auction. It reports false when the auction
// was already ended.
func (r Repo) EndAuctionTx(ctx context.Context, tx *sql.Tx, auctionID int64, highestBidderID *int64, txHash, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE auctions SET status='ended', end_tx_hash=?, last_tx_hash=?, highest_bidder_id=COALESCE(?,highest_bidder_id), updated_at=?
WHERE auction_id=? AND status='active'`, txHash, txHash, nullableInt64Ptr(highestBidderID), now, auctionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListAuctions returns auctions by status, newest first. An empty status lists all.
func (r Repo) ListAuctions(ctx context.Context, status domain.AuctionStatus, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY auction_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Auction
	for rows.Next() {
		var a domain.Auction
		var bidder sql.NullInt64
		var endTx sql.NullString
		if err := rows.Scan(&a.AuctionID, &a.WorkID, &a.SellerID, &a.StartPrice, &a.CurrentPrice, &bidder, &a.EndTime, &a.Status,
			&a.StartTxHash, &a.LastTxHash, &endTx, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if bidder.Valid {
			a.HighestBidderID = &bidder.Int64
		}
		if endTx.Valid {
			a.EndTxHash = &endTx.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListActiveAuctionSummaries joins active auctions with their work and seller.
func (r Repo) ListActiveAuctionSummaries(ctx context.Context) ([]domain.AuctionSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT a.auction_id,a.work_id,w.title,COALESCE(w.category,''),COALESCE(w.image_url,''),
a.start_price,a.current_price,a.end_time,u.username
FROM auctions a
JOIN works w ON w.work_id=a.work_id
JOIN users u ON u.id=a.seller_id
WHERE a.status='active'
ORDER BY a.end_time ASC, a.auction_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AuctionSummary{}
	for rows.Next() {
		var s domain.AuctionSummary
		if err := rows.Scan(&s.AuctionID, &s.WorkID, &s.Title, &s.Category, &s.ImageURL, &s.StartPrice, &s.CurrentPrice, &s.EndTime, &s.SellerUsername); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
