package storefront

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"invoicefetch/lib/restyutil"
	"invoicefetch/lib/telemetry"
	"invoicefetch/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	_ "embed"
)

//go:embed testdata/order_history.html
var orderHistoryHtml []byte

//go:embed testdata/invoice_popover.html
var invoicePopoverHtml []byte

func storefrontDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, timezone.Location)
}

func TestParseOrderCards(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(orderHistoryHtml))
	require.NoError(t, err)

	cards := doc.Find("div#orderCard, div.order-card")
	require.Equal(t, 3, cards.Length())

	orders := parseOrderCards(context.Background(), cards)

	expected := []Order{
		{
			ID:        "304-1234567-1234567",
			Date:      storefrontDate(2024, time.December, 30),
			DateText:  "30. Dezember 2024",
			PriceText: "€ 1.234,56",
			Total:     1234.56,
			Year:      2024,
		},
		{
			ID:        "028-7654321-0000001",
			Date:      storefrontDate(2025, time.January, 17),
			DateText:  "17 January 2025",
			PriceText: "€ 29,99",
			Total:     29.99,
			Year:      2025,
		},
	}
	if diff := cmp.Diff(expected, orders); diff != "" {
		t.Fatalf("unexpected orders (-want +got):\n%s", diff)
	}
}

func TestParseOrderDate(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  time.Time
	}{
		{"30. Dezember 2024", storefrontDate(2024, time.December, 30)},
		{"1. März 2023", storefrontDate(2023, time.March, 1)},
		{"17 January 2025", storefrontDate(2025, time.January, 17)},
		{"5 February 2024", storefrontDate(2024, time.February, 5)},
		{"30.12.2024", storefrontDate(2024, time.December, 30)},
	} {
		got, err := ParseOrderDate(tc.input)
		require.NoError(t, err, tc.input)
		require.True(t, got.Equal(tc.want), "%s: got %s", tc.input, got)
	}

	for _, input := range []string{"", "Rechnung", "32. Foo 2024", "30.13.2024"} {
		_, err := ParseOrderDate(input)
		require.Error(t, err, input)
	}
}

func TestParsePrice(t *testing.T) {
	require.Equal(t, 1234.56, ParsePrice("€ 1.234,56"))
	require.Equal(t, 29.99, ParsePrice("EUR 29,99"))
	require.Equal(t, 5.0, ParsePrice("5,00 €"))
	require.Equal(t, 0.0, ParsePrice(""))
	require.Equal(t, 0.0, ParsePrice("Gratis"))
}

func TestParseInvoiceAnchors(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{BaseUrl: "https://www.amazon.de"})
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(invoicePopoverHtml))
	require.NoError(t, err)

	refs := client.parseInvoiceAnchors(ctx, doc)

	expected := []InvoiceRef{
		{
			Ref:   "19182d45-59f9-42ca-b9db-9c53853152a0",
			URL:   "https://www.amazon.de/documents/download/19182d45-59f9-42ca-b9db-9c53853152a0/invoice.pdf",
			Label: "Rechnung 1",
		},
		{
			Ref:   "5c9e82a2-0f1b-42ca-b9db-9c53853152a0",
			URL:   "https://www.amazon.de/documents/download/5C9E82A2-0F1B-42CA-B9DB-9C53853152A0/invoice.pdf",
			Label: "Rechnung 2",
		},
	}
	if diff := cmp.Diff(expected, refs); diff != "" {
		t.Fatalf("unexpected invoice refs (-want +got):\n%s", diff)
	}
}

// a minimal fake of the storefront sign-in flow: the order history
// redirects to a sign-in form until the session cookie is set.
type fakeStorefront struct {
	password string
	// number of order-history requests answered with garbage before
	// the fake starts behaving, to exercise the retry loop
	flakyRequests int
}

func (f *fakeStorefront) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/gp/css/order-history", func(w http.ResponseWriter, r *http.Request) {
		if f.flakyRequests > 0 {
			f.flakyRequests--
			fmt.Fprint(w, "<html><body>temporarily unavailable</body></html>")
			return
		}
		if cookie, err := r.Cookie("session"); err == nil && cookie.Value == "ok" {
			fmt.Fprint(w, `<html><body><select id="time-filter"></select></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<form name="signIn" method="post" action="/ap/signin">
				<input type="hidden" name="appActionToken" value="token123"/>
				<input type="email" name="email"/>
				<input type="password" name="password"/>
			</form>
		</body></html>`)
	})
	mux.HandleFunc("/ap/signin", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("appActionToken") != "token123" {
			http.Error(w, "missing form state", http.StatusBadRequest)
			return
		}
		if r.FormValue("password") != f.password {
			fmt.Fprint(w, `<html><body><div id="auth-error-message-box">wrong password</div></body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		fmt.Fprint(w, `<html><body>signed in</body></html>`)
	})
	return mux
}

func TestLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:scrapers/storefront")
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer((&fakeStorefront{password: "hunter2"}).handler())
	defer server.Close()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	session, err := client.Login(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	session.Close()

	// the session cookie is gone after Close, a bad password now
	// surfaces the sentinel
	_, err = client.Login(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestLoginRetries(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:scrapers/storefront")
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer((&fakeStorefront{password: "hunter2", flakyRequests: 2}).handler())
	defer server.Close()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL, LoginRetries: 2})
	require.NoError(t, err)

	session, err := client.Login(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	session.Close()
}

func TestHttpTrafficDump(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:scrapers/storefront")
	defer cleanup()
	ctx := context.Background()

	server := httptest.NewServer((&fakeStorefront{password: "hunter2"}).handler())
	defer server.Close()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "resty")
	client.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(dir))

	session, err := client.Login(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	session.Close()

	// every exchange of the login flow lands in its own message file
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestListOrdersAndInvoiceRefs(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:scrapers/storefront")
	defer cleanup()
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/gp/css/order-history", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "year-2024", r.URL.Query().Get("timeFilter"))
		// a single page of results, the second request is past the end
		if r.URL.Query().Get("startIndex") != "0" {
			fmt.Fprint(w, "<html><body></body></html>")
			return
		}
		w.Write(orderHistoryHtml)
	})
	mux.HandleFunc("/gp/shared-cs/ajax/invoice/invoice.html", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "304-1234567-1234567", r.URL.Query().Get("orderId"))
		w.Write(invoicePopoverHtml)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)
	session := &Session{client: client}

	orders, err := session.ListOrders(ctx, 2024)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, "304-1234567-1234567", orders[0].ID)

	refs, err := session.ListInvoiceRefs(ctx, orders[0])
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, "19182d45-59f9-42ca-b9db-9c53853152a0", refs[0].Ref)
}
