package invoicestore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"invoicefetch/lib/timezone"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// durable record of which invoices have already been delivered to at
// least one sink. a row exists if and only if delivery was confirmed,
// rows are never written speculatively.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

type Record struct {
	OrderID string
	Ref     string
	URL     string
	// destinations that actually succeeded, empty otherwise
	LocalPath string
	RemoteID  string
	// populated on reads, ignored on writes
	RecordedAt time.Time
}

func hashURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (s Store) Exists(ctx context.Context, orderID, ref string) (bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM invoices WHERE order_id = ? AND invoice_ref = ?`,
		orderID, ref,
	)
	var count int64
	err := row.Scan(&count)
	if err != nil {
		return false, fmt.Errorf("invoice exists: %w", err)
	}
	return count > 0, nil
}

func (s Store) CountForOrder(ctx context.Context, orderID string) (int64, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM invoices WHERE order_id = ?`,
		orderID,
	)
	var count int64
	err := row.Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invoices for order: %w", err)
	}
	return count, nil
}

// commits one processed invoice. recording an already-present
// (order_id, invoice_ref) key is a no-op.
func (s Store) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO invoices (order_id, invoice_ref, invoice_url, url_hash, local_path, remote_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id, invoice_ref) DO NOTHING`,
		rec.OrderID,
		rec.Ref,
		rec.URL,
		hashURL(rec.URL),
		rec.LocalPath,
		rec.RemoteID,
		timezone.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record invoice: %w", err)
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var recordedAt int64
		var urlHash string
		err := rows.Scan(
			&rec.OrderID,
			&rec.Ref,
			&rec.URL,
			&urlHash,
			&rec.LocalPath,
			&rec.RemoteID,
			&recordedAt,
		)
		if err != nil {
			return nil, err
		}
		rec.RecordedAt = time.Unix(recordedAt, 0).In(timezone.Location)
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectRecords = `SELECT order_id, invoice_ref, invoice_url, url_hash, local_path, remote_id, recorded_at FROM invoices`

func (s Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords+` ORDER BY recorded_at, order_id, invoice_ref`)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s Store) ListForOrder(ctx context.Context, orderID string) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		selectRecords+` WHERE order_id = ? ORDER BY recorded_at, invoice_ref`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invoices for order: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

type OrderSeen struct {
	OrderID      string
	Date         string
	Total        string
	InvoiceCount int64
}

// refreshes the diagnostics row for an order observed during a scan.
// the first_seen_at timestamp is preserved across refreshes.
func (s Store) RecordOrderSeen(ctx context.Context, o OrderSeen) error {
	now := timezone.Now().Unix()
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO orders (order_id, order_date, total, invoice_count, first_seen_at, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			order_date = excluded.order_date,
			total = excluded.total,
			invoice_count = excluded.invoice_count,
			last_checked_at = excluded.last_checked_at`,
		o.OrderID, o.Date, o.Total, o.InvoiceCount, now, now,
	)
	if err != nil {
		return fmt.Errorf("record order seen: %w", err)
	}
	return nil
}

type OrderRow struct {
	OrderID       string
	Date          string
	Total         string
	InvoiceCount  int64
	FirstSeenAt   time.Time
	LastCheckedAt time.Time
}

func (s Store) Orders(ctx context.Context) ([]OrderRow, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT order_id, order_date, total, invoice_count, first_seen_at, last_checked_at
		FROM orders ORDER BY first_seen_at, order_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		var firstSeen, lastChecked int64
		err := rows.Scan(&o.OrderID, &o.Date, &o.Total, &o.InvoiceCount, &firstSeen, &lastChecked)
		if err != nil {
			return nil, err
		}
		o.FirstSeenAt = time.Unix(firstSeen, 0).In(timezone.Location)
		o.LastCheckedAt = time.Unix(lastChecked, 0).In(timezone.Location)
		out = append(out, o)
	}
	return out, rows.Err()
}

type Stats struct {
	Orders          int64
	Invoices        int64
	LocalDeliveries int64
	RemoteUploads   int64
}

func (s Store) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM orders),
		(SELECT COUNT(*) FROM invoices),
		(SELECT COUNT(*) FROM invoices WHERE local_path != ''),
		(SELECT COUNT(*) FROM invoices WHERE remote_id != '')`)
	err := row.Scan(&out.Orders, &out.Invoices, &out.LocalDeliveries, &out.RemoteUploads)
	if err != nil {
		return Stats{}, fmt.Errorf("store stats: %w", err)
	}
	return out, nil
}
