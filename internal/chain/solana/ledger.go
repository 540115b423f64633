package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/plagtech/spraay-solana-gateway/internal/alert"
	"github.com/plagtech/spraay-solana-gateway/internal/cache"
	"github.com/plagtech/spraay-solana-gateway/internal/chain/ratelimit"
	"github.com/plagtech/spraay-solana-gateway/internal/chain/solana/rpc"
	"github.com/plagtech/spraay-solana-gateway/internal/circuitbreaker"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/metrics"
	"github.com/plagtech/spraay-solana-gateway/internal/pipeline"
	"github.com/plagtech/spraay-solana-gateway/internal/pipeline/retry"
)

const (
	// mintAccountSize is the length of an SPL Token mint account.
	mintAccountSize = 82
	// mintDecimalsOffset follows mint_authority (36) and supply (8).
	mintDecimalsOffset = 44

	defaultCommitment = "confirmed"
)

// LedgerConfig tunes the RPC guard rails around one cluster endpoint.
type LedgerConfig struct {
	Network                 model.Network
	Commitment              string
	RateLimitRPS            float64
	RateLimitBurst          int
	ReadRetries             int
	ReadRetryBaseDelay      time.Duration
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	MintCacheSize           int
	MintCacheTTL            time.Duration
	Alerter                 alert.Alerter
}

// Ledger implements pipeline.Ledger over the Solana JSON-RPC API. Every call
// waits on the shared rate limiter and runs under the circuit breaker.
// Reads are retried; sendTransaction never is.
type Ledger struct {
	client     rpc.RPCClient
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	retry      retry.Policy
	mints      *cache.LRU[solanago.PublicKey, uint8]
	commitment string
	network    model.Network
	alerter    alert.Alerter
	logger     *slog.Logger
}

var _ pipeline.Ledger = (*Ledger)(nil)

func NewLedger(client rpc.RPCClient, cfg LedgerConfig, logger *slog.Logger) *Ledger {
	if cfg.Commitment == "" {
		cfg.Commitment = defaultCommitment
	}
	if cfg.Alerter == nil {
		cfg.Alerter = &alert.NoopAlerter{}
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	l := &Ledger{
		client:     client,
		limiter:    ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, string(cfg.Network)),
		retry:      retry.Policy{Retries: cfg.ReadRetries, BaseDelay: cfg.ReadRetryBaseDelay, MaxDelay: 5 * time.Second},
		mints:      cache.NewLRU[solanago.PublicKey, uint8](cfg.MintCacheSize, cfg.MintCacheTTL),
		commitment: cfg.Commitment,
		network:    cfg.Network,
		alerter:    cfg.Alerter,
		logger:     logger.With("component", "ledger", "network", cfg.Network),
	}
	l.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		OnStateChange:    l.onBreakerChange,
	})
	return l
}

func (l *Ledger) LatestWindow(ctx context.Context) (model.ValidityWindow, error) {
	var window model.ValidityWindow
	err := l.read(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		res, err := l.client.GetLatestBlockhash(ctx, l.commitment)
		if err != nil {
			return err
		}
		hash, err := solanago.HashFromBase58(res.Blockhash)
		if err != nil {
			return retry.Terminal(fmt.Errorf("parse blockhash %q: %w", res.Blockhash, err))
		}
		window = model.ValidityWindow{Blockhash: hash, LastValidBlockHeight: res.LastValidBlockHeight}
		return nil
	})
	return window, err
}

func (l *Ledger) AccountExists(ctx context.Context, address solanago.PublicKey) (bool, error) {
	var exists bool
	err := l.read(ctx, "getAccountInfo", func(ctx context.Context) error {
		info, err := l.client.GetAccountInfo(ctx, address.String(), l.commitment)
		if err != nil {
			return err
		}
		exists = info != nil
		return nil
	})
	return exists, err
}

// MintDecimals reads the decimals byte of an SPL Token mint. Results are
// cached; a mint's decimals never change.
func (l *Ledger) MintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error) {
	decimals, hit, err := l.mints.GetOrLoad(mint, func() (uint8, error) {
		return l.loadMintDecimals(ctx, mint)
	})
	if hit {
		metrics.MintCacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.MintCacheLookups.WithLabelValues("miss").Inc()
	}
	return decimals, err
}

func (l *Ledger) loadMintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error) {
	var info *rpc.AccountInfo
	err := l.read(ctx, "getAccountInfo", func(ctx context.Context) error {
		var err error
		info, err = l.client.GetAccountInfo(ctx, mint.String(), l.commitment)
		return err
	})
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, fmt.Errorf("mint %s: %w", mint, model.ErrAccountNotFound)
	}
	if info.Owner != solanago.TokenProgramID.String() {
		return 0, fmt.Errorf("mint %s owned by %s: %w", mint, info.Owner, model.ErrNotTokenMint)
	}
	data, err := info.DecodedData()
	if err != nil {
		return 0, fmt.Errorf("mint %s: %w", mint, err)
	}
	if len(data) < mintAccountSize {
		return 0, fmt.Errorf("mint %s has %d bytes of data: %w", mint, len(data), model.ErrNotTokenMint)
	}
	return data[mintDecimalsOffset], nil
}

// Send submits a signed transaction once. Preflight runs at the ledger's
// commitment so a rejected transaction surfaces here.
func (l *Ledger) Send(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("encode transaction: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	var sig solanago.Signature
	err = l.call(ctx, "sendTransaction", func(ctx context.Context) error {
		text, err := l.client.SendTransaction(ctx, encoded, rpc.SendOptions{PreflightCommitment: l.commitment})
		if err != nil {
			return err
		}
		sig, err = solanago.SignatureFromBase58(text)
		if err != nil {
			return fmt.Errorf("parse returned signature %q: %w", text, err)
		}
		return nil
	})
	return sig, err
}

func (l *Ledger) SignatureStatus(ctx context.Context, sig solanago.Signature) (*model.SignatureState, error) {
	var state *model.SignatureState
	err := l.read(ctx, "getSignatureStatuses", func(ctx context.Context) error {
		statuses, err := l.client.GetSignatureStatuses(ctx, []string{sig.String()})
		if err != nil {
			return err
		}
		if len(statuses) == 0 || statuses[0] == nil {
			state = nil
			return nil
		}
		s := statuses[0]
		state = &model.SignatureState{Slot: s.Slot, Err: s.Err}
		if s.ConfirmationStatus != nil {
			state.ConfirmationStatus = *s.ConfirmationStatus
		}
		return nil
	})
	return state, err
}

func (l *Ledger) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := l.read(ctx, "getBlockHeight", func(ctx context.Context) error {
		var err error
		height, err = l.client.GetBlockHeight(ctx, l.commitment)
		return err
	})
	return height, err
}

func (l *Ledger) Transaction(ctx context.Context, sig solanago.Signature) (*model.TxDetails, error) {
	var details *model.TxDetails
	err := l.read(ctx, "getTransaction", func(ctx context.Context) error {
		tx, err := l.client.GetTransaction(ctx, sig.String())
		if err != nil {
			return err
		}
		if tx == nil {
			details = nil
			return nil
		}
		details = &model.TxDetails{Slot: tx.Slot, BlockTime: tx.BlockTime}
		if tx.Meta != nil {
			details.Fee = tx.Meta.Fee
		}
		return nil
	})
	return details, err
}

// BreakerState exposes the breaker for health reporting.
func (l *Ledger) BreakerState() circuitbreaker.State {
	return l.breaker.GetState()
}

func (l *Ledger) read(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, l.retry, func(ctx context.Context) error {
		return l.call(ctx, method, fn)
	})
}

func (l *Ledger) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := l.limiter.Wait(ctx); err != nil {
		ratelimit.RecordRPCCall(method, err)
		return fmt.Errorf("%s: %w", method, err)
	}
	err := l.breaker.Execute(func() error { return fn(ctx) }, countsAgainstBreaker)
	ratelimit.RecordRPCCall(method, err)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// countsAgainstBreaker reports whether err says something about endpoint
// health. Rejected transactions and caller cancellations do not.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return retry.Classify(err).IsTransient()
	}
	return true
}

func (l *Ledger) onBreakerChange(from, to circuitbreaker.State) {
	metrics.RPCCircuitState.Set(float64(to))
	l.logger.Warn("rpc circuit breaker state changed", "from", from.String(), "to", to.String())

	var a alert.Alert
	switch {
	case to == circuitbreaker.StateOpen:
		a = alert.Alert{
			Type:    alert.AlertTypeRPCDegraded,
			Title:   "Solana RPC circuit open",
			Message: "RPC calls are failing; new batches are rejected until the endpoint recovers.",
		}
	case to == circuitbreaker.StateClosed && from == circuitbreaker.StateHalfOpen:
		a = alert.Alert{
			Type:    alert.AlertTypeRPCRecovered,
			Title:   "Solana RPC recovered",
			Message: "RPC calls are succeeding again.",
		}
	default:
		return
	}
	a.Network = string(l.network)
	a.Fields = map[string]string{"from": from.String(), "to": to.String()}

	// Called with the breaker locked; delivery must not block it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := l.alerter.Send(ctx, a); err != nil {
			l.logger.Warn("rpc alert failed", "type", a.Type, "error", err)
		}
	}()
}

// LazyLedger builds its Ledger on first use and shares it afterwards.
type LazyLedger struct {
	get func() *Ledger
}

var _ pipeline.Ledger = (*LazyLedger)(nil)

func NewLazyLedger(build func() *Ledger) *LazyLedger {
	return &LazyLedger{get: sync.OnceValue(build)}
}

func (l *LazyLedger) Ledger() *Ledger { return l.get() }

func (l *LazyLedger) LatestWindow(ctx context.Context) (model.ValidityWindow, error) {
	return l.get().LatestWindow(ctx)
}

func (l *LazyLedger) AccountExists(ctx context.Context, address solanago.PublicKey) (bool, error) {
	return l.get().AccountExists(ctx, address)
}

func (l *LazyLedger) MintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error) {
	return l.get().MintDecimals(ctx, mint)
}

func (l *LazyLedger) Send(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error) {
	return l.get().Send(ctx, tx)
}

func (l *LazyLedger) SignatureStatus(ctx context.Context, sig solanago.Signature) (*model.SignatureState, error) {
	return l.get().SignatureStatus(ctx, sig)
}

func (l *LazyLedger) BlockHeight(ctx context.Context) (uint64, error) {
	return l.get().BlockHeight(ctx)
}

func (l *LazyLedger) Transaction(ctx context.Context, sig solanago.Signature) (*model.TxDetails, error) {
	return l.get().Transaction(ctx, sig)
}
