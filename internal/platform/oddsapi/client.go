// Package oddsapi is a client for The Odds API v4 live and historical odds
// endpoints.
package oddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// ErrUnauthorized is returned for a missing or invalid API key.
var ErrUnauthorized = errors.New("oddsapi: unauthorized")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("oddsapi: status %d: %s", e.Status, e.Message)
}

// Client calls The Odds API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client. baseURL is the API root, e.g.
// "https://api.the-odds-api.com/v4".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Sports lists in-season sports. The call does not count against the quota.
func (c *Client) Sports(ctx context.Context) ([]Sport, error) {
	body, _, err := c.doGet(ctx, "/sports", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("oddsapi: sports: %w", err)
	}
	var sports []Sport
	if err := json.Unmarshal(body, &sports); err != nil {
		return nil, fmt.Errorf("oddsapi: decode sports: %w", err)
	}
	return sports, nil
}

// Odds fetches current odds for req.Sport.
func (c *Client) Odds(ctx context.Context, req OddsRequest) (OddsResponse, error) {
	path := "/sports/" + url.PathEscape(req.Sport) + "/odds"
	body, quota, err := c.doGet(ctx, path, oddsParams(req))
	if err != nil {
		return OddsResponse{}, fmt.Errorf("oddsapi: odds %s: %w", req.Sport, err)
	}

	events, err := DecodeOdds(body)
	if err != nil {
		return OddsResponse{}, err
	}
	return OddsResponse{Events: events, Quota: quota, Body: body}, nil
}

// HistoricalOdds fetches the snapshot closest to, and not after, at.
func (c *Client) HistoricalOdds(ctx context.Context, req OddsRequest, at time.Time) (HistoricalResponse, error) {
	params := oddsParams(req)
	params.Set("date", at.UTC().Format(time.RFC3339))

	path := "/historical/sports/" + url.PathEscape(req.Sport) + "/odds"
	body, quota, err := c.doGet(ctx, path, params)
	if err != nil {
		return HistoricalResponse{}, fmt.Errorf("oddsapi: historical odds %s at %s: %w", req.Sport, at.Format(time.RFC3339), err)
	}

	resp, err := DecodeHistorical(body)
	if err != nil {
		return HistoricalResponse{}, err
	}
	resp.Quota = quota
	return resp, nil
}

// DecodeOdds parses a live odds body, a JSON array of events.
func DecodeOdds(body []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("oddsapi: decode odds: %w", err)
	}
	return decodeEvents(raw)
}

// DecodeHistorical parses a historical odds body. Quota is left unset.
func DecodeHistorical(body []byte) (HistoricalResponse, error) {
	var env historicalEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return HistoricalResponse{}, fmt.Errorf("oddsapi: decode historical odds: %w", err)
	}
	events, err := decodeEvents(env.Data)
	if err != nil {
		return HistoricalResponse{}, err
	}
	return HistoricalResponse{
		Timestamp:         env.Timestamp.UTC(),
		PreviousTimestamp: env.PreviousTimestamp,
		NextTimestamp:     env.NextTimestamp,
		Events:            events,
		Body:              body,
	}, nil
}

func oddsParams(req OddsRequest) url.Values {
	params := url.Values{}
	regions := req.Regions
	if len(regions) == 0 {
		regions = []string{"us"}
	}
	markets := req.Markets
	if len(markets) == 0 {
		markets = []string{MarketH2H, MarketSpreads, MarketTotals}
	}
	params.Set("regions", strings.Join(regions, ","))
	params.Set("markets", strings.Join(markets, ","))
	params.Set("dateFormat", "iso")
	params.Set("oddsFormat", "american")
	if len(req.Bookmakers) > 0 {
		params.Set("bookmakers", strings.Join(req.Bookmakers, ","))
	}
	return params
}

func decodeEvents(raw []json.RawMessage) ([]Event, error) {
	events := make([]Event, 0, len(raw))
	for i, r := range raw {
		var ev Event
		if err := json.Unmarshal(r, &ev); err != nil {
			return nil, fmt.Errorf("oddsapi: decode event %d: %w", i, err)
		}
		ev.Raw = r
		events = append(events, ev)
	}
	return events, nil
}

// doGet issues a GET with the API key and returns the body and quota.
func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, Quota, error) {
	params.Set("apiKey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, Quota{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Quota{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Quota{}, fmt.Errorf("read response: %w", err)
	}
	quota := parseQuota(resp.Header)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, quota, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, quota, fmt.Errorf("%w: %s", domain.ErrRateLimited, errorMessage(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, quota, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, quota, nil
}

func errorMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return strings.TrimSpace(string(body))
}

func parseQuota(h http.Header) Quota {
	return Quota{
		Remaining: headerInt(h, "x-requests-remaining"),
		Used:      headerInt(h, "x-requests-used"),
		LastCost:  headerInt(h, "x-requests-last"),
	}
}

func headerInt(h http.Header, key string) int {
	v := h.Get(key)
	if v == "" {
		return -1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return -1
	}
	return int(f)
}
