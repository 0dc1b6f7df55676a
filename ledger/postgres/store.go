package postgres

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/query"
)

const receiptTable = `"billingz_receipt"`

// Schema creates the receipt table. Applied by tests and by operators
// bootstrapping a fresh database.
const Schema = `
CREATE TABLE IF NOT EXISTS "billingz_receipt" (
	"id"           TEXT PRIMARY KEY,
	"sku"          TEXT NOT NULL,
	"userId"       TEXT NOT NULL,
	"marketplace"  TEXT NOT NULL,
	"canceled"     BOOLEAN NOT NULL,
	"productType"  SMALLINT NOT NULL,
	"purchaseDate" TIMESTAMPTZ NOT NULL
);
`

type receiptModel struct {
	ID           string       `db:"id"`
	SKU          string       `db:"sku"`
	UserID       string       `db:"userId"`
	Marketplace  string       `db:"marketplace"`
	Canceled     bool         `db:"canceled"`
	ProductType  int16        `db:"productType"`
	PurchaseDate sql.NullTime `db:"purchaseDate"`
}

type pgStore struct {
	db *sqlx.DB
}

func NewInPostgres(db *sql.DB) ledger.Store {
	return &pgStore{
		db: sqlx.NewDb(db, "pgx"),
	}
}

func (s *pgStore) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+receiptTable)
	if err != nil {
		panic(err)
	}
}

func (s *pgStore) InsertReceipt(ctx context.Context, receipt *ledger.Receipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+receiptTable+` ("id", "sku", "userId", "marketplace", "canceled", "productType", "purchaseDate")
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		receipt.ID,
		receipt.SKU,
		receipt.UserID,
		receipt.Marketplace,
		receipt.Canceled,
		int16(receipt.ProductType),
		receipt.PurchaseDate,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ledger.ErrExists
		}
		return errors.Wrap(err, "failed to insert receipt")
	}

	return nil
}

func (s *pgStore) GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error) {
	var m receiptModel
	err := s.db.GetContext(ctx, &m, `
		SELECT "id", "sku", "userId", "marketplace", "canceled", "productType", "purchaseDate"
		FROM `+receiptTable+` WHERE "id" = $1
	`, id)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get receipt")
	}

	return fromModel(&m), nil
}

func (s *pgStore) ListReceipts(ctx context.Context, opts ...query.Option) ([]*ledger.Receipt, error) {
	applied := query.ApplyOptions(opts...)

	q := `
		SELECT "id", "sku", "userId", "marketplace", "canceled", "productType", "purchaseDate"
		FROM ` + receiptTable + ` WHERE TRUE
	`
	var args []any
	if applied.ProductType != product.TypeUnknown {
		args = append(args, int16(applied.ProductType))
		q += ` AND "productType" = $1`
	}
	if applied.Canceled != nil {
		args = append(args, *applied.Canceled)
		q += ` AND "canceled" = $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY "purchaseDate" ASC`
	if applied.Limit > 0 {
		args = append(args, applied.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	var ms []receiptModel
	if err := s.db.SelectContext(ctx, &ms, q, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list receipts")
	}

	out := make([]*ledger.Receipt, 0, len(ms))
	for i := range ms {
		out = append(out, fromModel(&ms[i]))
	}
	return out, nil
}

func fromModel(m *receiptModel) *ledger.Receipt {
	r := &ledger.Receipt{
		ID:          m.ID,
		SKU:         m.SKU,
		UserID:      m.UserID,
		Marketplace: m.Marketplace,
		Canceled:    m.Canceled,
		ProductType: product.Type(m.ProductType),
	}
	if m.PurchaseDate.Valid {
		r.PurchaseDate = m.PurchaseDate.Time
	}
	return r
}
