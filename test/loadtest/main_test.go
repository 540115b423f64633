package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	sorted := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, int64(5), percentile(sorted, 50))
	assert.Equal(t, int64(10), percentile(sorted, 95))
	assert.Equal(t, int64(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 99))
}

func TestFormatNanos(t *testing.T) {
	assert.Equal(t, "500.0us", formatNanos(int64(500*time.Microsecond)))
	assert.Equal(t, "12.50ms", formatNanos(int64(12500*time.Microsecond)))
	assert.Equal(t, "1.500s", formatNanos(int64(1500*time.Millisecond)))
}

func TestCheckQuote(t *testing.T) {
	ok := model.Quote{Recipients: 20, Transactions: 2, TransactionsUpperBound: 2, MaxPerTransaction: 14}
	assert.NoError(t, checkQuote(ok, 20))

	assert.Error(t, checkQuote(ok, 21))

	short := ok
	short.Transactions = 1
	assert.Error(t, checkQuote(short, 20))

	inverted := ok
	inverted.TransactionsUpperBound = 1
	assert.Error(t, checkQuote(inverted, 20))
}

func TestFetchQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("token"))
		_ = json.NewEncoder(w).Encode(model.Quote{
			Recipients:             7,
			Transactions:           1,
			TransactionsUpperBound: 3,
			MaxPerTransaction:      7,
		})
	}))
	defer srv.Close()

	require.NoError(t, fetchQuote(context.Background(), srv.Client(), srv.URL, 7, "USDC"))
	assert.Error(t, fetchQuote(context.Background(), srv.Client(), srv.URL, 8, "USDC"))
}

func TestCheckHealth_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.Error(t, checkHealth(context.Background(), srv.Client(), srv.URL+"/health"))
}

func TestStatsRecord(t *testing.T) {
	s := &stats{}
	s.record(time.Millisecond, nil)
	s.record(2*time.Millisecond, assert.AnError)

	assert.Equal(t, int64(2), s.requests.Load())
	assert.Equal(t, int64(1), s.errors.Load())
	assert.Len(t, s.latenciesNs, 2)
}
