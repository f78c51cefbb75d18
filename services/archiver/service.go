package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"invoicefetch/lib/invoicestore"
	"invoicefetch/lib/scrapers/storefront"
	"invoicefetch/lib/timezone"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("invoicefetch.services.archiver")

// Source yields raw order and invoice records scraped from the
// storefront. *storefront.Session is the production implementation.
type Source interface {
	ListOrders(ctx context.Context, year int) ([]storefront.Order, error)
	ListInvoiceRefs(ctx context.Context, order storefront.Order) ([]storefront.InvoiceRef, error)
	FetchDocument(ctx context.Context, ref storefront.InvoiceRef) ([]byte, error)
}

type Summary struct {
	RunID           string
	Years           []int
	OrdersScanned   int
	InvoicesNew     int
	InvoicesFailed  int
	InvoicesSkipped int
	// archive filenames delivered this run, in delivery order
	Delivered []string
}

type Options struct {
	Store      invoicestore.Store
	Source     Source
	Dispatcher Dispatcher
	// optional minimum-year floor for the year window
	MinYear int
}

type Service struct {
	store      invoicestore.Store
	source     Source
	dispatcher Dispatcher
	minYear    int
}

func NewService(opts Options) (Service, error) {
	if opts.Dispatcher.Empty() {
		return Service{}, fmt.Errorf("no sink configured: set an output directory and/or a paperless endpoint")
	}
	if opts.Source == nil {
		return Service{}, fmt.Errorf("no scrape source configured")
	}
	return Service{
		store:      opts.Store,
		source:     opts.Source,
		dispatcher: opts.Dispatcher,
		minYear:    opts.MinYear,
	}, nil
}

// Run executes one sequential archive pass: year window, then per
// year orders, then per order reconciliation and delivery. Per-order
// and per-invoice failures are logged and skipped; Run only returns an
// error when the pass could make no progress at all.
func (s Service) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "archiver:Run")
	defer span.End()

	runID, err := random.String(8)
	if err != nil {
		runID = "unknown"
	}

	years := YearWindow(timezone.Now(), s.minYear)
	summary := Summary{RunID: runID, Years: years}
	span.SetAttributes(attribute.String("run_id", runID), attribute.IntSlice("years", years))

	slog.InfoContext(ctx, "starting archive run", "run_id", runID, "years", years)

	for _, year := range years {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		slog.InfoContext(ctx, "scanning year", "run_id", runID, "year", year)
		orders, err := s.source.ListOrders(ctx, year)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(ctx, "failed to list orders, continuing with next year", "year", year, "err", err)
			continue
		}

		for _, order := range orders {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			err := s.processOrder(ctx, &summary, order)
			if err != nil {
				slog.WarnContext(ctx, "failed to process order, skipping", "order", order.ID, "err", err)
			}
		}
	}

	s.logRunStats(ctx, summary)

	if summary.InvoicesNew == 0 && summary.InvoicesFailed > 0 {
		err := fmt.Errorf("all %d delivery attempts failed", summary.InvoicesFailed)
		span.SetStatus(codes.Error, err.Error())
		return summary, err
	}
	return summary, nil
}

func (s Service) processOrder(ctx context.Context, summary *Summary, order storefront.Order) error {
	ctx, span := tracer.Start(ctx, "archiver:processOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order", order.ID))

	summary.OrdersScanned++

	refs, err := s.source.ListInvoiceRefs(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list invoice refs")
		return err
	}

	err = s.store.RecordOrderSeen(ctx, invoicestore.OrderSeen{
		OrderID:      order.ID,
		Date:         order.Date.Format("2006-01-02"),
		Total:        order.PriceText,
		InvoiceCount: int64(len(refs)),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record order")
		return err
	}

	if len(refs) == 0 {
		s.warnMissingInvoices(ctx, order)
		return nil
	}

	work, err := Reconcile(ctx, s.store, order.ID, refs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reconcile")
		return err
	}
	summary.InvoicesSkipped += len(refs) - len(work)
	if len(work) == 0 {
		slog.DebugContext(ctx, "order fully processed", "order", order.ID, "invoices", len(refs))
		return nil
	}

	slog.InfoContext(ctx, "new invoices found", "order", order.ID, "new", len(work), "scraped", len(refs))

	// 1-based position in the full scraped list, used for the filename
	// suffix of split shipments
	position := map[string]int{}
	for idx, ref := range refs {
		position[ref.Ref] = idx + 1
	}

	for _, ref := range work {
		inv := Invoice{
			Order:    order,
			Ref:      ref,
			Filename: Filename(order, position[ref.Ref], len(refs)),
		}

		data, err := s.source.FetchDocument(ctx, ref)
		if err != nil {
			summary.InvoicesFailed++
			span.RecordError(err)
			slog.WarnContext(ctx, "failed to fetch invoice document", "order", order.ID, "ref", ref.Ref, "err", err)
			continue
		}

		delivery := s.dispatcher.Dispatch(ctx, inv, data)
		if !delivery.Delivered() {
			// state stays uncommitted so the next run retries this one
			summary.InvoicesFailed++
			continue
		}

		err = s.store.Record(ctx, invoicestore.Record{
			OrderID:   order.ID,
			Ref:       ref.Ref,
			URL:       ref.URL,
			LocalPath: delivery.LocalPath,
			RemoteID:  delivery.RemoteID,
		})
		if err != nil {
			summary.InvoicesFailed++
			span.RecordError(err)
			slog.ErrorContext(ctx, "delivered but failed to commit state, will redeliver next run", "order", order.ID, "ref", ref.Ref, "err", err)
			continue
		}

		summary.InvoicesNew++
		summary.Delivered = append(summary.Delivered, inv.Filename)
		slog.InfoContext(
			ctx, "invoice processed",
			"order", order.ID,
			"file", inv.Filename,
			"local", delivery.LocalPath,
			"remote", delivery.RemoteID,
		)
	}
	return nil
}

// paid orders older than two weeks should have their invoices issued
// by now, flag them so the account owner can request one manually.
func (s Service) warnMissingInvoices(ctx context.Context, order storefront.Order) {
	if order.Total <= 0 {
		return
	}
	if timezone.Now().Sub(order.Date) <= 14*24*time.Hour {
		return
	}
	slog.WarnContext(
		ctx, "paid order has no invoices",
		"order", order.ID,
		"date", order.DateText,
		"total", order.PriceText,
	)
}

func (s Service) logRunStats(ctx context.Context, summary Summary) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to read store stats", "err", err)
		stats = invoicestore.Stats{}
	}
	slog.InfoContext(
		ctx, "archive run finished",
		"run_id", summary.RunID,
		"orders_scanned", summary.OrdersScanned,
		"invoices_new", summary.InvoicesNew,
		"invoices_skipped", summary.InvoicesSkipped,
		"invoices_failed", summary.InvoicesFailed,
		"total_orders", stats.Orders,
		"total_invoices", stats.Invoices,
	)
}
