package storefront

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"invoicefetch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InvoiceRef is one downloadable invoice document linked from an
// order's invoice popover.
type InvoiceRef struct {
	// lowercased document UUID extracted from the download URL
	Ref string
	// absolute download URL
	URL string
	// anchor text, e.g. "Rechnung 1"
	Label string
}

const invoicePopoverPath = "/gp/shared-cs/ajax/invoice/invoice.html"

func (s *Session) ListInvoiceRefs(ctx context.Context, order Order) ([]InvoiceRef, error) {
	ctx, span := tracer.Start(ctx, "session:ListInvoiceRefs")
	defer span.End()
	span.SetAttributes(attribute.String("order", order.ID))

	res, err := s.client.Http.R().
		SetContext(ctx).
		SetQueryParam("orderId", order.ID).
		Get(invoicePopoverPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch invoice popover")
		return nil, fmt.Errorf("fetch invoice popover for %s: %w", order.ID, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse invoice popover")
		return nil, fmt.Errorf("parse invoice popover for %s: %w", order.ID, err)
	}

	refs := s.client.parseInvoiceAnchors(ctx, doc)
	span.SetAttributes(attribute.Int("refs", len(refs)))
	return refs, nil
}

var invoiceUUIDRegex = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func (c *Client) parseInvoiceAnchors(ctx context.Context, doc *goquery.Document) []InvoiceRef {
	anchors := htmlutil.GetAnchors(ctx, doc.Find("ul.invoice-list a, a[href*='invoice.pdf']"))

	var refs []InvoiceRef
	seen := map[string]bool{}
	for _, anchor := range anchors {
		link, err := url.Parse(anchor.Href)
		if err != nil {
			slog.WarnContext(ctx, "skipping invoice anchor with a broken href", "href", anchor.Href, "err", err)
			continue
		}
		absolute := c.BaseUrl.ResolveReference(link).String()

		uuid := invoiceUUIDRegex.FindString(absolute)
		if uuid == "" {
			// the popover also links credit notes and "request invoice"
			// actions, which carry no document id
			continue
		}
		if seen[absolute] {
			continue
		}
		seen[absolute] = true

		refs = append(refs, InvoiceRef{
			Ref:   strings.ToLower(uuid),
			URL:   absolute,
			Label: anchor.Name,
		})
	}
	return refs
}

// FetchDocument downloads the PDF bytes for one invoice reference over
// the authenticated session.
func (s *Session) FetchDocument(ctx context.Context, ref InvoiceRef) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "session:FetchDocument")
	defer span.End()
	span.SetAttributes(attribute.String("ref", ref.Ref))

	res, err := s.client.Http.R().
		SetContext(ctx).
		Get(ref.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to download invoice document")
		return nil, fmt.Errorf("download invoice %s: %w", ref.Ref, err)
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("download invoice %s: status %s", ref.Ref, res.Status())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(res.Body()) == 0 {
		err := fmt.Errorf("download invoice %s: empty document body", ref.Ref)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res.Body(), nil
}
