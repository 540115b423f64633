package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/plagtech/spraay-solana-gateway/internal/chain/solana/rpc"
	"github.com/plagtech/spraay-solana-gateway/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5, "devnet")

	require.NotNil(t, l)
	assert.Equal(t, "devnet", l.network)
	assert.InDelta(t, 10.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 5, l.limiter.Burst())
}

func TestNewLimiter_NonPositiveRateIsUnlimited(t *testing.T) {
	l := NewLimiter(0, 0, "devnet")

	assert.Equal(t, rate.Inf, l.limiter.Limit())
	assert.Equal(t, 1, l.limiter.Burst())
	assert.False(t, math.IsNaN(float64(l.limiter.Limit())))
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst, "devnet")

	for i := 0; i < burst; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(context.Background()))
		assert.Less(t, time.Since(start), 50*time.Millisecond, "request %d should not wait", i)
	}
}

func TestLimiter_WaitWhenExhausted(t *testing.T) {
	l := NewLimiter(10, 1, "mainnet-beta")

	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := NewLimiter(1, 1, "devnet")
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"breaker open", fmt.Errorf("getBlockHeight: %w", circuitbreaker.ErrCircuitOpen), "circuit_open"},
		{"canceled", context.Canceled, "canceled"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"json-rpc error", fmt.Errorf("sendTransaction: %w", &rpc.RPCError{Code: -32002, Message: "simulation failed"}), "rpc_error"},
		{"json-rpc 429", &rpc.RPCError{Code: 429, Message: "slow down"}, "rate_limited"},
		{"http 429", errors.New("http status 429: Too Many Requests"), "rate_limited"},
		{"http 503", errors.New("http status 503: unavailable"), "server_error"},
		{"refused", errors.New("dial tcp 127.0.0.1:8899: connect: connection refused"), "network_error"},
		{"eof", errors.New("unexpected EOF"), "network_error"},
		{"other", errors.New("unmarshal response: bad json"), "client_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRPCError(tt.err))
		})
	}
}
