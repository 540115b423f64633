package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plagtech/spraay-solana-gateway/internal/circuitbreaker"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/pipeline"
	"github.com/plagtech/spraay-solana-gateway/internal/store"
	storeredis "github.com/plagtech/spraay-solana-gateway/internal/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTreasury = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

type fakePayouts struct {
	mu         sync.Mutex
	result     *model.BatchResult
	err        error
	native     []model.NativeBatchRequest
	token      []model.TokenBatchRequest
	quoteArgs  []string
	status     *model.TxStatusReport
	statusErr  error
	statusSigs []string
}

func (f *fakePayouts) SendNative(_ context.Context, req model.NativeBatchRequest) (*model.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native = append(f.native, req)
	return f.result, f.err
}

func (f *fakePayouts) SendToken(_ context.Context, req model.TokenBatchRequest) (*model.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = append(f.token, req)
	return f.result, f.err
}

func (f *fakePayouts) Quote(recipients int, token string) model.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteArgs = append(f.quoteArgs, fmt.Sprintf("%d/%s", recipients, token))
	return model.Quote{Recipients: recipients, Token: token, Transactions: 1}
}

func (f *fakePayouts) Status(_ context.Context, signature string) (*model.TxStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusSigs = append(f.statusSigs, signature)
	return f.status, f.statusErr
}

type staticMints map[string]string

func (m staticMints) ResolveMint(s string) string {
	if mint, ok := m[strings.ToUpper(s)]; ok {
		return mint
	}
	return s
}

type fakeRepo struct {
	store.NoopBatchRepository
	batches map[uuid.UUID]*model.BatchRecord
}

func (r *fakeRepo) GetBatch(_ context.Context, id uuid.UUID) (*model.BatchRecord, error) {
	if b, ok := r.batches[id]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", store.ErrBatchNotFound, id)
}

type brokenGuard struct{}

func (brokenGuard) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (brokenGuard) Release(context.Context, string) error { return nil }

func newTestServer(t *testing.T, payouts Payouts, opts ...ServerOption) *httptest.Server {
	t.Helper()
	srv := NewServer(payouts, Config{
		Network:  model.NetworkDevnet,
		Treasury: testTreasury,
		Version:  "test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	srv.nowFn = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func do(t *testing.T, method, url, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func resultWith(outcome model.BatchOutcome) *model.BatchResult {
	return &model.BatchResult{
		BatchID:    uuid.New(),
		Success:    outcome == model.BatchOutcomeSuccess,
		Outcome:    outcome,
		Kind:       model.AssetKindNative,
		Recipients: 3,
		Signatures: []string{"sig"},
	}
}

const nativeBody = `{"recipients":[{"address":"A","amount":1.5},{"address":"B","amount":"2"}]}`

func TestServer_BatchSendSOL_OutcomeStatusCodes(t *testing.T) {
	tests := []struct {
		outcome model.BatchOutcome
		status  int
	}{
		{model.BatchOutcomeSuccess, http.StatusOK},
		{model.BatchOutcomePartial, http.StatusMultiStatus},
		{model.BatchOutcomeFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			payouts := &fakePayouts{result: resultWith(tt.outcome)}
			ts := newTestServer(t, payouts)

			resp, body := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, string(tt.outcome), body["outcome"])

			require.Len(t, payouts.native, 1)
			require.Len(t, payouts.native[0].Recipients, 2)
			assert.Equal(t, "A", payouts.native[0].Recipients[0].Address)
			assert.JSONEq(t, `"2"`, string(payouts.native[0].Recipients[1].Amount))
		})
	}
}

func TestServer_BatchSendToken_ResolvesSymbol(t *testing.T) {
	payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
	mint := "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	ts := newTestServer(t, payouts, WithMintResolver(staticMints{"USDC": mint}))

	resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-token", `{"mint":"usdc","recipients":[]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, payouts.token, 1)
	assert.Equal(t, mint, payouts.token[0].Mint)

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/batch-send-token", `{"mint":"`+testTreasury+`","recipients":[]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testTreasury, payouts.token[1].Mint)
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "recipient violation",
			err:    fmt.Errorf("validate: %w", &pipeline.ValidationError{Index: 5, Field: "address", Value: "nope", Reason: "not a base58 public key"}),
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, float64(5), body["index"])
				assert.Equal(t, "address", body["field"])
				assert.Contains(t, body["error"], "index 5")
			},
		},
		{
			name:   "list violation",
			err:    &pipeline.ValidationError{Index: -1, Reason: "recipients must not be empty"},
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.NotContains(t, body, "index")
				assert.Equal(t, "recipients must not be empty", body["error"])
			},
		},
		{
			name:   "bad mint",
			err:    fmt.Errorf("%w: mint is not a token mint", pipeline.ErrInvalidRequest),
			status: http.StatusBadRequest,
		},
		{
			name:   "resolution",
			err:    fmt.Errorf("%w: getLatestBlockhash: timeout", pipeline.ErrResolution),
			status: http.StatusBadGateway,
		},
		{
			name:   "circuit open",
			err:    fmt.Errorf("getAccountInfo: %w", circuitbreaker.ErrCircuitOpen),
			status: http.StatusBadGateway,
		},
		{
			name:   "unexpected",
			err:    errors.New("pq: connection reset"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal error", body["error"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakePayouts{err: tt.err})

			resp, body := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, false, body["success"])
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestServer_RejectsMalformedBodies(t *testing.T) {
	payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
	srv := NewServer(payouts, Config{MaxBodyBytes: 64}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, body := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", `{"recipients":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON body", body["error"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", `{"recipients":[`+strings.Repeat(`{"address":"A","amount":1},`, 10)+`]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	assert.Empty(t, payouts.native)
}

func TestServer_IdempotencyKey(t *testing.T) {
	t.Run("duplicate after a submitted batch", func(t *testing.T) {
		payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
		ts := newTestServer(t, payouts, WithIdempotencyGuard(storeredis.NewMemoryGuard()))

		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "run-1")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "run-1")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Contains(t, body["error"], "run-1")
		assert.Len(t, payouts.native, 1)
	})

	t.Run("released when rejected before submission", func(t *testing.T) {
		payouts := &fakePayouts{err: &pipeline.ValidationError{Index: 0, Field: "amount", Value: "0", Reason: "must be positive"}}
		ts := newTestServer(t, payouts, WithIdempotencyGuard(storeredis.NewMemoryGuard()))

		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "run-2")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		payouts.err = nil
		payouts.result = resultWith(model.BatchOutcomeSuccess)
		resp, _ = do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "run-2")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("keys are scoped per endpoint", func(t *testing.T) {
		payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
		ts := newTestServer(t, payouts, WithIdempotencyGuard(storeredis.NewMemoryGuard()))

		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "k")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp, _ = do(t, http.MethodPost, ts.URL+"/v1/batch-send-token", `{"mint":"M","recipients":[]}`, idempotencyHeader, "k")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("blank key rejected", func(t *testing.T) {
		payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
		ts := newTestServer(t, payouts, WithIdempotencyGuard(storeredis.NewMemoryGuard()))

		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "   ")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, payouts.native)
	})

	t.Run("guard unavailable", func(t *testing.T) {
		payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
		ts := newTestServer(t, payouts, WithIdempotencyGuard(brokenGuard{}))

		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody, idempotencyHeader, "k")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Empty(t, payouts.native)
	})

	t.Run("no header skips the guard", func(t *testing.T) {
		payouts := &fakePayouts{result: resultWith(model.BatchOutcomeSuccess)}
		ts := newTestServer(t, payouts, WithIdempotencyGuard(brokenGuard{}))

		resp, _ := do(t, http.MethodPost, ts.URL+"/v1/batch-send-sol", nativeBody)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_Quote(t *testing.T) {
	payouts := &fakePayouts{}
	ts := newTestServer(t, payouts)

	resp, body := do(t, http.MethodGet, ts.URL+"/v1/quote?recipients=100&token=USDC", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), body["recipients"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/quote", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/quote?recipients=many", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["recipients"])

	assert.Equal(t, []string{"100/USDC", "1/", "1/"}, payouts.quoteArgs)
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 1},
		{"many", 1},
		{"0", 1},
		{"-4", 1},
		{"25", 25},
		{" 25 ", 25},
		{"+7", 7},
		{"12abc", 12},
		{"3.9", 3},
		{"99999999999999999999999", math.MaxInt},
		{"-99999999999999999999999", 1},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCount(tt.raw))
		})
	}
}

func TestServer_Status(t *testing.T) {
	slot := uint64(42)
	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"

	t.Run("found", func(t *testing.T) {
		payouts := &fakePayouts{status: &model.TxStatusReport{Signature: sig, Status: "finalized", Slot: &slot}}
		ts := newTestServer(t, payouts)

		resp, body := do(t, http.MethodGet, ts.URL+"/v1/status/"+sig, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "finalized", body["status"])
		assert.Equal(t, []string{sig}, payouts.statusSigs)
	})

	t.Run("not found", func(t *testing.T) {
		ts := newTestServer(t, &fakePayouts{statusErr: fmt.Errorf("%w: %s", pipeline.ErrNotFound, sig)})

		resp, _ := do(t, http.MethodGet, ts.URL+"/v1/status/"+sig, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed", func(t *testing.T) {
		ts := newTestServer(t, &fakePayouts{statusErr: &pipeline.ValidationError{Index: -1, Reason: "signature is not valid base58"}})

		resp, _ := do(t, http.MethodGet, ts.URL+"/v1/status/xyz", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_GetBatch(t *testing.T) {
	id := uuid.New()
	repo := &fakeRepo{batches: map[uuid.UUID]*model.BatchRecord{
		id: {ID: id, Kind: model.AssetKindNative, Network: model.NetworkDevnet, Recipients: 3},
	}}

	ts := newTestServer(t, &fakePayouts{}, WithBatchRepository(repo))

	resp, body := do(t, http.MethodGet, ts.URL+"/v1/batches/"+id.String(), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id.String(), body["id"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/batches/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/batches/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bare := newTestServer(t, &fakePayouts{})
	resp, _ = do(t, http.MethodGet, bare.URL+"/v1/batches/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	state := circuitbreaker.StateClosed
	ts := newTestServer(t, &fakePayouts{}, WithRPCState(func() circuitbreaker.State { return state }))

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"version":   "test",
		"network":   "devnet",
		"treasury":  testTreasury,
		"rpc":       "closed",
		"timestamp": "2026-03-01T12:00:00Z",
	}, body)

	state = circuitbreaker.StateOpen
	_, body = do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "open", body["rpc"])
}

func TestServer_MetricsAndUnknownRoutes(t *testing.T) {
	ts := newTestServer(t, &fakePayouts{})

	resp, _ := do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/batch-send-sol", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
