package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type capturedRequest struct {
	table  string
	query  map[string]string
	apiKey string
	auth   string
}

func newSupabaseServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	r := chi.NewRouter()
	r.Get("/rest/v1/{table}", func(w http.ResponseWriter, req *http.Request) {
		captured.table = chi.URLParam(req, "table")
		captured.query = map[string]string{}
		for k, v := range req.URL.Query() {
			captured.query[k] = v[0]
		}
		captured.apiKey = req.Header.Get("apikey")
		captured.auth = req.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestPostgREST_FetchLive(t *testing.T) {
	body := `[
		{"id": 42, "title": "Will BTC close above $100k?", "question": "BTC > 100k by March?", "expiration_date": "2026-03-01T00:00:00Z", "image_url": "https://img.example/42.png", "status": "active", "created_at": "2026-01-10T00:00:00Z"},
		{"id": "abc", "title": null, "description": "Rain in London, 70% odds", "expiration_date": "2026-02-01T00:00:00Z", "image_url": null, "status": "live", "created_at": "2026-01-09T00:00:00Z"}
	]`
	srv, captured := newSupabaseServer(t, http.StatusOK, body)

	repo := NewPostgRESTRepository(srv.URL, "anon-key", WithClock(fixedClock), WithHTTPClient(srv.Client()))
	markets, err := repo.FetchLive(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	assert.Equal(t, "markets", captured.table)
	assert.Equal(t, "anon-key", captured.apiKey)
	assert.Equal(t, "Bearer anon-key", captured.auth)
	assert.Equal(t, "in.(active,live)", captured.query["status"])
	assert.Equal(t, "gt.2026-01-15T12:00:00Z", captured.query["expiration_date"])
	assert.Equal(t, "created_at.desc", captured.query["order"])
	assert.Equal(t, "5", captured.query["limit"])

	assert.Equal(t, "42", markets[0].ID)
	assert.Equal(t, "Will BTC close above $100k?", markets[0].Title)
	assert.Equal(t, "https://img.example/42.png", markets[0].ImageURL)
	assert.Equal(t, "abc", markets[1].ID)
	assert.Empty(t, markets[1].Title)
	assert.Equal(t, "Rain in London, 70% odds", markets[1].Description)
}

func TestPostgREST_EmptyIsNotAnError(t *testing.T) {
	srv, _ := newSupabaseServer(t, http.StatusOK, `[]`)

	repo := NewPostgRESTRepository(srv.URL, "k", WithHTTPClient(srv.Client()))
	markets, err := repo.FetchLive(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, markets)
	assert.Empty(t, markets)
}

func TestPostgREST_DropsRowsExpiredByCallerClock(t *testing.T) {
	body := `[
		{"id": 1, "title": "stale", "expiration_date": "2026-01-15T11:59:59Z", "status": "active"},
		{"id": 2, "title": "fresh", "expiration_date": "2026-01-15T12:00:01Z", "status": "active"}
	]`
	srv, _ := newSupabaseServer(t, http.StatusOK, body)

	repo := NewPostgRESTRepository(srv.URL, "k", WithClock(fixedClock), WithHTTPClient(srv.Client()))
	markets, err := repo.FetchLive(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "fresh", markets[0].Title)
}

func TestPostgREST_CustomTableAndStatuses(t *testing.T) {
	srv, captured := newSupabaseServer(t, http.StatusOK, `[]`)

	repo := NewPostgRESTRepository(srv.URL, "k",
		WithTable("prediction_markets"),
		WithStatuses([]string{"open"}),
		WithHTTPClient(srv.Client()),
	)
	_, err := repo.FetchLive(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "prediction_markets", captured.table)
	assert.Equal(t, "in.(open)", captured.query["status"])
}

func TestPostgREST_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"Invalid API key"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"malformed body", http.StatusOK, `{"not": "an array"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newSupabaseServer(t, tt.status, tt.body)
			repo := NewPostgRESTRepository(srv.URL, "k", WithHTTPClient(srv.Client()))
			_, err := repo.FetchLive(context.Background(), 5)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnavailable), "error %v should wrap ErrUnavailable", err)
		})
	}
}

func TestPostgREST_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	repo := NewPostgRESTRepository(url, "k")
	_, err := repo.FetchLive(context.Background(), 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgREST_InvalidLimit(t *testing.T) {
	repo := NewPostgRESTRepository("http://unused", "k")
	_, err := repo.FetchLive(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
	assert.False(t, errors.Is(err, ErrUnavailable))
}
