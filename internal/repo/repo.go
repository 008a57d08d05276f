package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"copyauction/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NormalizeAddress lowercases a ledger address so lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

const userColumns = `id,email,username,status,ledger_address,created_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var addr sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Status, &addr, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if addr.Valid {
		u.LedgerAddress = &addr.String
	}
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) (int64, error) {
	if u.Status == "" {
		u.Status = domain.UserActive
	}
	var addr any
	if u.LedgerAddress != nil {
		addr = NormalizeAddress(*u.LedgerAddress)
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO users(email,username,status,ledger_address,created_at) VALUES (?,?,?,?,?)`,
		strings.ToLower(strings.TrimSpace(u.Email)), u.Username, u.Status, addr, u.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return getUser(ctx, r.DB, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, q queryer, id int64) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) GetUserByLedgerAddress(ctx context.Context, addr string) (domain.User, error) {
	return getUserByLedgerAddress(ctx, r.DB, addr)
}

func (r Repo) GetUserByLedgerAddressTx(ctx context.Context, tx *sql.Tx, addr string) (domain.User, error) {
	return getUserByLedgerAddress(ctx, tx, addr)
}

func getUserByLedgerAddress(ctx context.Context, q queryer, addr string) (domain.User, error) {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return domain.User{}, ErrNotFound
	}
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE ledger_address=?`, addr))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var addr sql.NullString
		if err := rows.Scan(&u.ID, &u.Email, &u.Username, &u.Status, &addr, &u.CreatedAt); err != nil {
			return nil, err
		}
		if addr.Valid {
			u.LedgerAddress = &addr.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// BindLedgerAddress registers the ledger address a user signs with.
func (r Repo) BindLedgerAddress(ctx context.Context, userID int64, addr string) error {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return errors.New("ledger address is empty")
	}
	return execOne(ctx, r.DB, `UPDATE users SET ledger_address=? WHERE id=?`, addr, userID)
}

func (r Repo) SetUserStatus(ctx context.Context, userID int64, status domain.UserStatus) error {
	return execOne(ctx, r.DB, `UPDATE users SET status=? WHERE id=?`, status, userID)
}

const workColumns = `work_id,owner_id,title,COALESCE(description,''),COALESCE(image_url,''),COALESCE(category,''),copyright_id,is_on_auction,created_at,updated_at`

func scanWork(row *sql.Row) (domain.Work, error) {
	var w domain.Work
	var copyright sql.NullString
	err := row.Scan(&w.WorkID, &w.OwnerID, &w.Title, &w.Description, &w.ImageURL, &w.Category, &copyright, &w.IsOnAuction, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if copyright.Valid {
		w.CopyrightID = &copyright.String
	}
	return w, err
}

func (r Repo) InsertWork(ctx context.Context, w domain.Work) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO works(work_id,owner_id,title,description,image_url,category,copyright_id,is_on_auction,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		w.WorkID, w.OwnerID, w.Title, nullable(w.Description), nullable(w.ImageURL), nullable(w.Category), nullableStrPtr(w.CopyrightID), w.IsOnAuction, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWork(ctx context.Context, workID int64) (domain.Work, error) {
	return scanWork(r.DB.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE work_id=?`, workID))
}

func (r Repo) GetWorkTx(ctx context.Context, tx *sql.Tx, workID int64) (domain.Work, error) {
	return scanWork(tx.QueryRowContext(ctx, `SELECT `+workColumns+` FROM works WHERE work_id=?`, workID))
}

func (r Repo) ListWorks(ctx context.Context, ownerID int64) ([]domain.Work, error) {
	query := `SELECT ` + workColumns + ` FROM works`
	var args []any
	if ownerID > 0 {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY work_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Work
	for rows.Next() {
		var w domain.Work
		var copyright sql.NullString
		if err := rows.Scan(&w.WorkID, &w.OwnerID, &w.Title, &w.Description, &w.ImageURL, &w.Category, &copyright, &w.IsOnAuction, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		if copyright.Valid {
			w.CopyrightID = &copyright.String
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// SetCopyright records the certificate issued for a work.
func (r Repo) SetCopyright(ctx context.Context, workID int64, copyrightID, now string) error {
	return execOne(ctx, r.DB, `UPDATE works SET copyright_id=?, updated_at=? WHERE work_id=?`, nullable(copyrightID), now, workID)
}

func (r Repo) SetWorkOnAuctionTx(ctx context.Context, tx *sql.Tx, workID int64, onAuction bool, now string) error {
	return execOne(ctx, tx, `UPDATE works SET is_on_auction=?, updated_at=? WHERE work_id=?`, onAuction, now, workID)
}

// TransferWorkTx moves ownership and takes the work off auction.
func (r Repo) TransferWorkTx(ctx context.Context, tx *sql.Tx, workID, ownerID int64, now string) error {
	return execOne(ctx, tx, `UPDATE works SET owner_id=?, is_on_auction=0, updated_at=? WHERE work_id=?`, ownerID, now, workID)
}

func execOne(ctx context.Context, q queryer, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStrPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
