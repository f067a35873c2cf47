package holiday

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_FetchHolidays_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/holidays", r.URL.Path)
		assert.Equal(t, "DE", r.URL.Query().Get("country"))
		assert.Equal(t, "BY", r.URL.Query().Get("region"))
		assert.Equal(t, "2026", r.URL.Query().Get("year"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"date": "2026-01-01", "name": "New Year", "type": "public"},
			{"date": "2026-05-01", "name": "Labour Day", "type": "public"}
		]`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL)
	holidays, err := p.FetchHolidays(context.Background(), "DE", "BY", 2026)

	require.NoError(t, err)
	require.Len(t, holidays, 2)
	assert.Equal(t, "New Year", holidays[0].Name)
	assert.Equal(t, "public", holidays[0].Type)
	assert.Equal(t, 2026, holidays[0].Date.Year())
}

func TestHTTPProvider_FetchHolidays_OmitsRegionWhenEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasRegion := r.URL.Query()["region"]
		assert.False(t, hasRegion)
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL)
	_, err := p.FetchHolidays(context.Background(), "US", "", 2026)
	require.NoError(t, err)
}

func TestHTTPProvider_FetchHolidays_SkipsEntriesWithUnparseableDates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"date": "not-a-date", "name": "Bad", "type": "public"},
			{"date": "2026-12-25", "name": "Christmas", "type": "public"}
		]`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL)
	holidays, err := p.FetchHolidays(context.Background(), "US", "", 2026)

	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.Equal(t, "Christmas", holidays[0].Name)
}

func TestHTTPProvider_FetchHolidays_NonOKStatusReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "boom"}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL)
	holidays, err := p.FetchHolidays(context.Background(), "US", "", 2026)

	require.Error(t, err)
	assert.Nil(t, holidays)
}

func TestHTTPProvider_FetchHolidays_InvalidJSONReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not valid json`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL)
	holidays, err := p.FetchHolidays(context.Background(), "US", "", 2026)

	require.Error(t, err)
	assert.Nil(t, holidays)
}

func TestHTTPProvider_FetchHolidays_NetworkErrorReturnsError(t *testing.T) {
	p := NewHTTPProvider("http://localhost:1")
	holidays, err := p.FetchHolidays(context.Background(), "US", "", 2026)

	require.Error(t, err)
	assert.Nil(t, holidays)
}

func TestHTTPProvider_FetchHolidays_InvalidBaseURLReturnsError(t *testing.T) {
	p := NewHTTPProvider("://not-a-url")
	holidays, err := p.FetchHolidays(context.Background(), "US", "", 2026)

	require.Error(t, err)
	assert.Nil(t, holidays)
}

func TestHTTPProvider_FetchHolidays_ContextCancelledReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	p := NewHTTPProvider(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	holidays, err := p.FetchHolidays(ctx, "US", "", 2026)
	require.Error(t, err)
	assert.Nil(t, holidays)
}
