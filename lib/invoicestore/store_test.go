package invoicestore

import (
	"context"
	"testing"

	"invoicefetch/lib/invoicestore/db"
	"invoicefetch/lib/testutil"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (Store, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "lib/invoicestore",
		DbSchema: db.Schema,
	})
	return NewStore(res.DB), cleanup
}

func TestRecordIsIdempotent(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	rec := Record{
		OrderID:   "304-1234567-1234567",
		Ref:       "19182d45-59f9-42ca-b9db-9c53853152a0",
		URL:       "https://www.amazon.de/documents/download/19182d45-59f9-42ca-b9db-9c53853152a0/invoice.pdf",
		LocalPath: "/invoices/AMZ_20241230_304-1234567-1234567.pdf",
	}
	require.NoError(t, store.Record(ctx, rec))

	exists, err := store.Exists(ctx, rec.OrderID, rec.Ref)
	require.NoError(t, err)
	require.True(t, exists)

	// re-recording the same key is a no-op, even with different
	// destination info
	again := rec
	again.LocalPath = ""
	again.RemoteID = "task-123"
	require.NoError(t, store.Record(ctx, again))

	records, err := store.ListForOrder(ctx, rec.OrderID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec.LocalPath, records[0].LocalPath)
	require.Empty(t, records[0].RemoteID)
	require.False(t, records[0].RecordedAt.IsZero())
}

func TestCountForOrder(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	count, err := store.CountForOrder(ctx, "304-1234567-1234567")
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	for _, ref := range []string{"ref-a", "ref-b"} {
		require.NoError(t, store.Record(ctx, Record{OrderID: "304-1234567-1234567", Ref: ref}))
	}
	require.NoError(t, store.Record(ctx, Record{OrderID: "028-7654321-0000001", Ref: "ref-a"}))

	count, err = store.CountForOrder(ctx, "304-1234567-1234567")
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestRecordOrderSeenRefresh(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	seen := OrderSeen{
		OrderID:      "304-1234567-1234567",
		Date:         "2024-12-30",
		Total:        "€ 1.234,56",
		InvoiceCount: 1,
	}
	require.NoError(t, store.RecordOrderSeen(ctx, seen))

	orders, err := store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	firstSeen := orders[0].FirstSeenAt

	// a later run observes a second invoice on the same order
	seen.InvoiceCount = 2
	require.NoError(t, store.RecordOrderSeen(ctx, seen))

	orders, err = store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.EqualValues(t, 2, orders[0].InvoiceCount)
	require.Equal(t, firstSeen, orders[0].FirstSeenAt)
}

func TestStats(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.RecordOrderSeen(ctx, OrderSeen{OrderID: "304-1234567-1234567"}))
	require.NoError(t, store.Record(ctx, Record{
		OrderID:   "304-1234567-1234567",
		Ref:       "ref-a",
		LocalPath: "/invoices/a.pdf",
	}))
	require.NoError(t, store.Record(ctx, Record{
		OrderID:  "304-1234567-1234567",
		Ref:      "ref-b",
		RemoteID: "task-b",
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Orders)
	require.EqualValues(t, 2, stats.Invoices)
	require.EqualValues(t, 1, stats.LocalDeliveries)
	require.EqualValues(t, 1, stats.RemoteUploads)
}

func TestListOrdering(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	for _, ref := range []string{"ref-c", "ref-a", "ref-b"} {
		require.NoError(t, store.Record(ctx, Record{OrderID: "304-1234567-1234567", Ref: ref}))
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
}
