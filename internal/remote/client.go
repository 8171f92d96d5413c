package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tenderwatch/tendersync/internal/record"
	"github.com/tenderwatch/tendersync/internal/resilience"
)

const defaultPageSize = 20

// ClientOptions configures the registry HTTP client.
type ClientOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RateLimit is requests per second against the registry gateway.
	RateLimit float64
	Retry     resilience.RetryConfig
	PageSize  int
}

// Client implements Reader against the registry's JSON browse gateway.
type Client struct {
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	ua       string
	pageSize int
}

// NewClient creates a registry client with rate limiting and retry.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tendersync/1.0"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	return &Client{
		baseURL:  opts.BaseURL,
		client:   &http.Client{Timeout: opts.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		retry:    opts.Retry,
		ua:       opts.UserAgent,
		pageSize: opts.PageSize,
	}
}

// PageSize returns records per browse page.
func (c *Client) PageSize() int { return c.pageSize }

type countResponse struct {
	Count *int `json:"count"`
}

type pageResponse struct {
	Tenders []record.Record `json:"tenders"`
}

// FetchCount queries the registry's count endpoint for a date window.
func (c *Client) FetchCount(ctx context.Context, from, to time.Time, f Filters) (int, error) {
	q := url.Values{}
	q.Set("date_from", from.Format("2006-01-02"))
	q.Set("date_to", to.Format("2006-01-02"))
	q.Set("count_only", "true")
	applyFilters(q, f)

	body, err := c.get(ctx, "/api/tenders/count", q)
	if err != nil {
		zap.L().Warn("count query failed",
			zap.String("from", from.Format("2006-01-02")),
			zap.String("to", to.Format("2006-01-02")),
			zap.Error(err),
		)
		return 0, eris.Wrap(ErrCountUnavailable, err.Error())
	}

	var resp countResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Count == nil {
		return 0, eris.Wrap(ErrCountUnavailable, "parse count response")
	}
	return *resp.Count, nil
}

// FetchPage retrieves one browse result page and stamps capture metadata on
// each record.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) ([]record.Record, error) {
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", req.Page))
	q.Set("per_page", fmt.Sprintf("%d", c.pageSize))
	q.Set("date_from", req.DateFrom.Format("2006-01-02"))
	q.Set("date_to", req.DateTo.Format("2006-01-02"))
	applyFilters(q, req.Filters)

	body, err := c.get(ctx, "/api/tenders", q)
	if err != nil {
		return nil, eris.Wrapf(err, "remote: fetch page %d", req.Page)
	}

	var resp pageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "remote: parse page %d", req.Page)
	}

	window := req.DateFrom.Format("2006-01-02") + ":" + req.DateTo.Format("2006-01-02")
	now := time.Now().UTC()
	for i := range resp.Tenders {
		resp.Tenders[i].ScrapedAt = now
		resp.Tenders[i].DateWindow = window
		resp.Tenders[i].ExtractionMethod = "browse-api"
	}
	return resp.Tenders, nil
}

// FetchRecord retrieves a single tender by identity key.
func (c *Client) FetchRecord(ctx context.Context, id string) (record.Record, error) {
	body, err := c.get(ctx, "/api/tenders/"+url.PathEscape(id), nil)
	if err != nil {
		return record.Record{}, err
	}

	var r record.Record
	if err := json.Unmarshal(body, &r); err != nil {
		return record.Record{}, eris.Wrapf(err, "remote: parse record %s", id)
	}
	r.ScrapedAt = time.Now().UTC()
	r.ExtractionMethod = "detail-api"
	return r, nil
}

func applyFilters(q url.Values, f Filters) {
	if f.TenderType != "" {
		q.Set("tender_type", f.TenderType)
	}
	if f.CategoryCode != "" {
		q.Set("category_code", f.CategoryCode)
	}
}

// get performs a rate-limited, retried GET and returns the response body.
// 404 maps to ErrNotFound; transient statuses are retried.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "remote: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, eris.Wrap(err, "remote: create request")
		}
		req.Header.Set("User-Agent", c.ua)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "remote: get %s", path)
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.NewTransientError(
				eris.Errorf("remote: http %d from %s", resp.StatusCode, path),
				resp.StatusCode,
			)
		case resp.StatusCode != http.StatusOK:
			return nil, eris.Errorf("remote: unexpected status %d from %s", resp.StatusCode, path)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "remote: read response body")
		}
		return body, nil
	})
}
