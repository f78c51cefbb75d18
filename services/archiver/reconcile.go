package archiver

import (
	"context"

	"invoicefetch/lib/invoicestore"
	"invoicefetch/lib/scrapers/storefront"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reconcile computes the work-list of invoice references that have not
// been delivered yet for one order, preserving scraped order. Running
// it again with unchanged state yields an empty work-list.
func Reconcile(ctx context.Context, store invoicestore.Store, orderID string, scraped []storefront.InvoiceRef) ([]storefront.InvoiceRef, error) {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("order", orderID),
		attribute.Int("scraped", len(scraped)),
	)

	stored, err := store.CountForOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count stored invoices")
		return nil, err
	}

	// an order whose stored count already covers the scraped set needs
	// no per-reference lookups. this is an optimization only, the
	// membership check below is authoritative.
	if int64(len(scraped)) <= stored {
		return nil, nil
	}

	var work []storefront.InvoiceRef
	for _, ref := range scraped {
		exists, err := store.Exists(ctx, orderID, ref.Ref)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to check stored invoice")
			return nil, err
		}
		if !exists {
			work = append(work, ref)
		}
	}

	span.SetAttributes(attribute.Int("work", len(work)))
	return work, nil
}
