package archiver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"invoicefetch/lib/scrapers/storefront"
	"invoicefetch/lib/timezone"
)

// Invoice is one work-list entry handed to the sinks.
type Invoice struct {
	Order    storefront.Order
	Ref      storefront.InvoiceRef
	Filename string
}

// Delivery records the destinations an invoice actually reached.
// fields stay empty for sinks that failed or were not configured.
type Delivery struct {
	LocalPath string
	RemoteID  string
}

func (d Delivery) Delivered() bool {
	return d.LocalPath != "" || d.RemoteID != ""
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, inv Invoice, data []byte) (Delivery, error)
}

// Dispatcher fans one invoice out to every configured sink. the sinks
// are independent: a failure in one never blocks the others, and the
// invoice counts as processed if any of them succeeded.
type Dispatcher struct {
	sinks []Sink
}

func NewDispatcher(sinks ...Sink) Dispatcher {
	return Dispatcher{sinks: sinks}
}

func (d Dispatcher) Empty() bool {
	return len(d.sinks) == 0
}

func (d Dispatcher) Dispatch(ctx context.Context, inv Invoice, data []byte) Delivery {
	ctx, span := tracer.Start(ctx, "Dispatch")
	defer span.End()

	var out Delivery
	for _, sink := range d.sinks {
		res, err := sink.Deliver(ctx, inv, data)
		if err != nil {
			span.RecordError(err)
			slog.WarnContext(
				ctx, "sink delivery failed",
				"sink", sink.Name(),
				"order", inv.Order.ID,
				"ref", inv.Ref.Ref,
				"err", err,
			)
			continue
		}
		if res.LocalPath != "" {
			out.LocalPath = res.LocalPath
		}
		if res.RemoteID != "" {
			out.RemoteID = res.RemoteID
		}
	}
	return out
}

var filenameSanitizer = strings.NewReplacer("/", "-", "\\", "-", ":", "-")

// Filename builds the archive filename for one invoice of an order:
// AMZ_<YYYYMMDD>_<order-id>[_<n>].pdf. position is the 1-based index
// in the full scraped list; the suffix only appears when the order has
// more than one invoice.
func Filename(order storefront.Order, position, total int) string {
	date := order.Date
	if date.IsZero() {
		date = timezone.Now()
	}
	name := fmt.Sprintf("AMZ_%s_%s", date.Format("20060102"), filenameSanitizer.Replace(order.ID))
	if total > 1 {
		name = fmt.Sprintf("%s_%d", name, position)
	}
	return name + ".pdf"
}
