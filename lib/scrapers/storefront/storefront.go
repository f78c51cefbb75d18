package storefront

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"time"

	"invoicefetch/lib/restyutil"
	"invoicefetch/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("invoicefetch.lib.scrapers.storefront")

var ErrLoginFailed = fmt.Errorf("failed to sign in to the storefront account")

const maxLoginRetries = 3

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	loginRetries int
}

type ClientOptions struct {
	BaseUrl string
	// extra login attempts after the first transient failure,
	// clamped to [0, 3]. bad credentials are never retried.
	LoginRetries int
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/storefront/http")

	retries := opts.LoginRetries
	if retries < 0 {
		retries = 0
	}
	if retries > maxLoginRetries {
		retries = maxLoginRetries
	}

	c := &Client{
		BaseUrl:      baseUrl,
		Http:         client,
		loginRetries: retries,
	}
	return c, nil
}

func (c *Client) SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyutil.InstrumentClient(c.Http, tracer, out)
}

// Session is the authenticated handle returned by Login. It owns the
// cookie state of the underlying client; Close releases it.
type Session struct {
	client *Client
}

func (s *Session) Close() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	s.client.Http.SetCookieJar(jar)
}

func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.loginRetries; attempt++ {
		if attempt > 0 {
			slog.WarnContext(ctx, "retrying storefront login", "attempt", attempt+1, "err", lastErr)
		}

		session, err := c.login(ctx, username, password)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, ErrLoginFailed) {
			// wrong credentials, retrying won't change the outcome
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "login failed after retries")
	return nil, lastErr
}

func (c *Client) login(ctx context.Context, username, password string) (*Session, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(orderHistoryPath)
	if err != nil {
		return nil, fmt.Errorf("fetch sign-in form: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse sign-in form: %w", err)
	}

	if isAuthenticated(doc) {
		// cookies from a previous run on the same jar are still valid
		return &Session{client: c}, nil
	}

	form := doc.Find("form[name=signIn]")
	if form.Length() == 0 {
		return nil, fmt.Errorf("could not locate the sign-in form")
	}

	fields := map[string]string{}
	form.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		fields[name] = input.AttrOr("value", "")
	})
	fields["email"] = username
	fields["password"] = password

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(fields).
		Post(form.AttrOr("action", "/ap/signin"))
	if err != nil {
		return nil, fmt.Errorf("submit credentials: %w", err)
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse sign-in response: %w", err)
	}

	if doc.Find("#auth-error-message-box").Length() > 0 {
		return nil, ErrLoginFailed
	}

	res, err = c.Http.R().
		SetContext(ctx).
		Get(orderHistoryPath)
	if err != nil {
		return nil, fmt.Errorf("fetch account page after sign-in: %w", err)
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse account page after sign-in: %w", err)
	}

	if !isAuthenticated(doc) {
		return nil, ErrLoginFailed
	}
	return &Session{client: c}, nil
}

// the year filter dropdown only renders on the authenticated
// order-history page, never on the sign-in flow.
func isAuthenticated(doc *goquery.Document) bool {
	return doc.Find("select#time-filter, select#timeFilterDropdown").Length() > 0
}
