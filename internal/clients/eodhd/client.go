// Package eodhd provides a market snapshot client for the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

const (
	DefaultBaseURL      = "https://eodhd.com/api"
	DefaultTimeout      = 10 * time.Second
	DefaultRateLimit    = 10 // requests per second
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 300 * time.Millisecond

	// historyDays covers a year of sessions plus slack for the structural-decline check
	historyDays = 400
)

// Client implements MarketSnapshotClient against EODHD
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	logger       *common.Logger
	limiter      *rate.Limiter
	maxRetries   int
	retryBackoff time.Duration
	now          func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the per-request HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetry sets how many times a transient failure is retried and the initial backoff
func WithRetry(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:       common.NewSilentLogger(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTransient reports whether a request failure is worth retrying:
// server errors, throttling and network failures. Context cancellation is not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// get performs a rate-limited GET request, retrying transient failures with exponential backoff
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryBackoff << (attempt - 1)
			c.logger.Debug().Err(err).Str("endpoint", path).Int("attempt", attempt).Dur("backoff", wait).Msg("Retrying EODHD request")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = c.do(ctx, reqURL, path, result)
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("after %d retries: %w", c.maxRetries, err)
}

func (c *Client) do(ctx context.Context, reqURL, path string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// eodBarResponse represents the API response for EOD data
type eodBarResponse struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	AdjustedClose float64 `json:"adjusted_close"`
	Volume        int64   `json:"volume"`
}

// generalResponse is the General+Highlights slice of the fundamentals endpoint
type generalResponse struct {
	General struct {
		Code    string `json:"Code"`
		Name    string `json:"Name"`
		Type    string `json:"Type"`
		IPODate string `json:"IPODate"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization flexFloat64 `json:"MarketCapitalization"`
	} `json:"Highlights"`
}

// incomeEntry is one quarter from Financials::Income_Statement::quarterly
type incomeEntry struct {
	Date      string       `json:"date"`
	NetIncome *flexFloat64 `json:"netIncome"`
}

// FetchSnapshot retrieves recent daily bars plus listing metadata.
// An unknown ticker or an empty price history yields a NoData snapshot with a nil error.
func (c *Client) FetchSnapshot(ctx context.Context, ticker models.Ticker) (*models.MarketSnapshot, error) {
	bars, err := c.getBars(ctx, ticker)
	if err != nil {
		if IsNotFound(err) {
			return &models.MarketSnapshot{Ticker: ticker, NoData: true, FetchedAt: c.now()}, nil
		}
		return nil, err
	}

	snap := models.SnapshotFromBars(ticker, bars)
	snap.FetchedAt = c.now()
	if snap.NoData {
		return snap, nil
	}

	// Listing metadata is optional; detectors pass stages that depend on it
	var gen generalResponse
	params := url.Values{}
	params.Set("filter", "General,Highlights")
	if err := c.get(ctx, fmt.Sprintf("/fundamentals/%s", ticker), params, &gen); err != nil {
		c.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("Fundamentals unavailable, continuing without listing data")
		return snap, nil
	}

	snap.Name = gen.General.Name
	if mc := float64(gen.Highlights.MarketCapitalization); mc > 0 {
		snap.MarketCap = &mc
	}
	if gen.General.IPODate != "" {
		if listed, err := time.Parse("2006-01-02", gen.General.IPODate); err == nil {
			snap.ListingDate = &listed
		}
	}

	return snap, nil
}

func (c *Client) getBars(ctx context.Context, ticker models.Ticker) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("period", "d")
	params.Set("order", "d") // descending (most recent first)
	params.Set("from", c.now().AddDate(0, 0, -historyDays).Format("2006-01-02"))

	var resp []eodBarResponse
	if err := c.get(ctx, fmt.Sprintf("/eod/%s", ticker), params, &resp); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(resp))
	for _, b := range resp {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			continue
		}
		bars = append(bars, models.Bar{
			Date:     date,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjustedClose,
			Volume:   b.Volume,
		})
	}
	// order=d is requested but not relied upon
	sortBarsDesc(bars)
	return bars, nil
}

// FetchEarningsHistory returns quarterly net income, newest first.
// Quarters without a reported figure are dropped. An unknown ticker returns nil, nil.
func (c *Client) FetchEarningsHistory(ctx context.Context, ticker models.Ticker) ([]float64, error) {
	params := url.Values{}
	params.Set("filter", "Financials::Income_Statement::quarterly")

	var resp map[string]incomeEntry
	if err := c.get(ctx, fmt.Sprintf("/fundamentals/%s", ticker), params, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	type quarter struct {
		date time.Time
		ni   float64
	}
	quarters := make([]quarter, 0, len(resp))
	for key, entry := range resp {
		if entry.NetIncome == nil {
			continue
		}
		ds := entry.Date
		if ds == "" {
			ds = key
		}
		d, err := time.Parse("2006-01-02", ds)
		if err != nil {
			continue
		}
		quarters = append(quarters, quarter{date: d, ni: float64(*entry.NetIncome)})
	}

	sortDesc(quarters, func(q quarter) time.Time { return q.date })

	out := make([]float64, len(quarters))
	for i, q := range quarters {
		out[i] = q.ni
	}
	return out, nil
}

// GetExchangeSymbols retrieves all symbols for an exchange
func (c *Client) GetExchangeSymbols(ctx context.Context, exchange string) ([]*models.Symbol, error) {
	path := fmt.Sprintf("/exchange-symbol-list/%s", exchange)

	var symbols []models.Symbol
	if err := c.get(ctx, path, nil, &symbols); err != nil {
		return nil, err
	}

	result := make([]*models.Symbol, len(symbols))
	for i := range symbols {
		result[i] = &symbols[i]
	}

	return result, nil
}

func sortBarsDesc(bars []models.Bar) {
	sortDesc(bars, func(b models.Bar) time.Time { return b.Date })
}

func sortDesc[T any](items []T, date func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return date(items[i]).After(date(items[j])) })
}

// Ensure Client implements the client interfaces
var (
	_ interfaces.MarketSnapshotClient = (*Client)(nil)
	_ interfaces.SymbolLister         = (*Client)(nil)
)
