package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTable   = "markets"
	defaultTimeout = 15 * time.Second
	selectColumns  = "id,title,description,question,expiration_date,image_url,status,created_at"
)

// PostgRESTRepository queries a Supabase project through its REST gateway.
type PostgRESTRepository struct {
	baseURL    string
	apiKey     string
	table      string
	statuses   []string
	httpClient *http.Client
	clock      Clock
}

// PostgRESTOption customises a PostgRESTRepository.
type PostgRESTOption func(*PostgRESTRepository)

// WithTable overrides the markets table name.
func WithTable(table string) PostgRESTOption {
	return func(r *PostgRESTRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// WithStatuses overrides the status values treated as live.
func WithStatuses(statuses []string) PostgRESTOption {
	return func(r *PostgRESTRepository) {
		if len(statuses) > 0 {
			r.statuses = statuses
		}
	}
}

// WithClock injects the clock used for the expiry filter.
func WithClock(c Clock) PostgRESTOption {
	return func(r *PostgRESTRepository) { r.clock = c }
}

// WithHTTPClient replaces the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) PostgRESTOption {
	return func(r *PostgRESTRepository) { r.httpClient = c }
}

// NewPostgRESTRepository creates a repository for the Supabase project at baseURL.
func NewPostgRESTRepository(baseURL, apiKey string, opts ...PostgRESTOption) *PostgRESTRepository {
	r := &PostgRESTRepository{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		table:      defaultTable,
		statuses:   DefaultLiveStatuses,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Repository = (*PostgRESTRepository)(nil)

// marketRow mirrors one JSON row of the markets table.
type marketRow struct {
	ID             flexString `json:"id"`
	Title          flexString `json:"title"`
	Description    flexString `json:"description"`
	Question       flexString `json:"question"`
	ExpirationDate flexString `json:"expiration_date"`
	ImageURL       flexString `json:"image_url"`
	Status         flexString `json:"status"`
	CreatedAt      flexString `json:"created_at"`
}

func (row marketRow) toMarket() Market {
	m := Market{
		ID:          string(row.ID),
		Title:       strings.TrimSpace(string(row.Title)),
		Description: strings.TrimSpace(string(row.Description)),
		Question:    strings.TrimSpace(string(row.Question)),
		ExpiresAt:   strings.TrimSpace(string(row.ExpirationDate)),
		ImageURL:    strings.TrimSpace(string(row.ImageURL)),
		Status:      string(row.Status),
	}
	if t, ok := ParseTimestamp(string(row.CreatedAt)); ok {
		m.CreatedAt = t
	}
	return m
}

// FetchLive returns up to limit live markets, newest first.
func (r *PostgRESTRepository) FetchLive(ctx context.Context, limit int) ([]Market, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	now := r.clock.now()

	q := url.Values{}
	q.Set("select", selectColumns)
	q.Set("status", "in.("+strings.Join(r.statuses, ",")+")")
	q.Set("expiration_date", "gt."+now.Format(time.RFC3339))
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", r.baseURL, url.PathEscape(r.table), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("requesting markets: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, unavailable("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var rows []marketRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, unavailable("decoding markets: %v", err)
	}

	markets := make([]Market, 0, len(rows))
	for _, row := range rows {
		markets = append(markets, row.toMarket())
	}
	return filterEligible(markets, now, r.statuses, limit), nil
}

// flexString accepts JSON strings, numbers and null, so integer primary
// keys and text columns decode into the same field.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("unsupported JSON value %s", data)
	}
	*f = flexString(n.String())
	return nil
}
