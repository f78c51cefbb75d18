package storefront

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"invoicefetch/lib/textutil"
	"invoicefetch/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Order is one validated order card scraped from the order history.
type Order struct {
	ID   string
	Date time.Time
	// the date and total cells as displayed on the card
	DateText  string
	PriceText string
	Total     float64
	Year      int
}

const orderHistoryPath = "/gp/css/order-history"

// pagination safety stop, no account year comes close to this
const maxOrderPages = 200

func (s *Session) ListOrders(ctx context.Context, year int) ([]Order, error) {
	ctx, span := tracer.Start(ctx, "session:ListOrders")
	defer span.End()
	span.SetAttributes(attribute.Int("year", year))

	var orders []Order
	startIndex := 0
	for page := 0; page < maxOrderPages; page++ {
		res, err := s.client.Http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"timeFilter": fmt.Sprintf("year-%d", year),
				"startIndex": strconv.Itoa(startIndex),
			}).
			Get(orderHistoryPath)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch order history page")
			return nil, fmt.Errorf("fetch order history: %w", err)
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse order history page")
			return nil, fmt.Errorf("parse order history: %w", err)
		}

		cards := doc.Find("div#orderCard, div.order-card")
		if cards.Length() == 0 {
			break
		}
		orders = append(orders, parseOrderCards(ctx, cards)...)
		startIndex += cards.Length()
	}

	span.SetAttributes(attribute.Int("orders", len(orders)))
	return orders, nil
}

// cards that fail validation are logged and skipped, they never abort
// the year. a page full of sponsored widgets still yields its valid
// orders.
func parseOrderCards(ctx context.Context, cards *goquery.Selection) []Order {
	var orders []Order
	cards.Each(func(i int, card *goquery.Selection) {
		order, err := parseOrderCard(card)
		if err != nil {
			slog.WarnContext(ctx, "skipping order card", "index", i, "err", err)
			return
		}
		orders = append(orders, order)
	})
	return orders
}

var orderIDRegex = regexp.MustCompile(`^\d{3}-\d{7}-\d{7}$`)

func parseOrderCard(card *goquery.Selection) (Order, error) {
	idText := textutil.CleanText(card.Find("#orderIdField, [id*=orderId]").First().Text())
	id := ""
	for _, part := range strings.Fields(idText) {
		if orderIDRegex.MatchString(part) {
			id = part
			break
		}
	}
	if id == "" {
		return Order{}, fmt.Errorf("could not find an order number in %q", idText)
	}

	var dateText, priceText string
	card.Find("#orderCardHeader .a-size-base").Each(func(_ int, cell *goquery.Selection) {
		text := textutil.CleanText(cell.Text())
		switch {
		case dateText == "" && looksLikeDate(text):
			dateText = text
		case priceText == "" && strings.Contains(text, "€"):
			priceText = text
		}
	})
	if dateText == "" {
		return Order{}, fmt.Errorf("order %s: could not find a date cell", id)
	}
	date, err := ParseOrderDate(dateText)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: %w", id, err)
	}

	return Order{
		ID:        id,
		Date:      date,
		DateText:  dateText,
		PriceText: priceText,
		Total:     ParsePrice(priceText),
		Year:      date.Year(),
	}, nil
}

var monthNames = map[string]time.Month{
	"januar": time.January, "january": time.January,
	"februar": time.February, "february": time.February,
	"märz": time.March, "march": time.March,
	"april": time.April,
	"mai":   time.May, "may": time.May,
	"juni": time.June, "june": time.June,
	"juli": time.July, "july": time.July,
	"august":    time.August,
	"september": time.September,
	"oktober":   time.October, "october": time.October,
	"november": time.November,
	"dezember": time.December, "december": time.December,
}

var numericDateRegex = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)

// ParseOrderDate parses the order dates the storefront renders, e.g.
// "30. Dezember 2024", "30 December 2024" or "30.12.2024". The result
// is anchored in the storefront timezone.
func ParseOrderDate(text string) (time.Time, error) {
	clean := textutil.CleanText(text)

	if groups := numericDateRegex.FindStringSubmatch(clean); groups != nil {
		day, _ := strconv.Atoi(groups[1])
		month, _ := strconv.Atoi(groups[2])
		year, _ := strconv.Atoi(groups[3])
		if month < 1 || month > 12 {
			return time.Time{}, fmt.Errorf("unrecognized order date %q", text)
		}
		return time.Date(year, time.Month(month), day, 0, 0, 0, 0, timezone.Location), nil
	}

	fields := strings.Fields(strings.ReplaceAll(clean, ".", ""))
	if len(fields) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized order date %q", text)
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized order date %q", text)
	}
	month, ok := monthNames[strings.ToLower(fields[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("unrecognized month in order date %q", text)
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized order date %q", text)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, timezone.Location), nil
}

func looksLikeDate(text string) bool {
	if numericDateRegex.MatchString(text) {
		return true
	}
	for _, field := range strings.Fields(strings.ReplaceAll(text, ".", "")) {
		if _, ok := monthNames[strings.ToLower(field)]; ok {
			return true
		}
	}
	return false
}

var priceCleaner = strings.NewReplacer("€", "", "EUR", "", " ", " ")

// ParsePrice parses storefront totals like "€ 1.234,56" into a decimal
// amount. unparseable totals yield 0, the raw text stays on the order.
func ParsePrice(text string) float64 {
	clean := strings.TrimSpace(priceCleaner.Replace(text))
	clean = strings.ReplaceAll(clean, ".", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return value
}
