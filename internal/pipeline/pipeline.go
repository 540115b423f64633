package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/plagtech/spraay-solana-gateway/internal/alert"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/plagtech/spraay-solana-gateway/internal/metrics"
	"github.com/plagtech/spraay-solana-gateway/internal/store"
	"github.com/plagtech/spraay-solana-gateway/internal/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Network             model.Network
	MaxRecipients       int
	Capacities          Capacities
	ResolveConcurrency  int
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	ServiceFeePercent   decimal.Decimal
	Alerter             alert.Alerter
}

// Pipeline turns one payout request into signed, submitted and confirmed
// transactions. Batches share nothing but the ledger and treasury handles.
type Pipeline struct {
	cfg       Config
	ledger    Ledger
	treasury  Treasury
	repo      store.BatchRepository
	logger    *slog.Logger
	tracer    trace.Tracer
	estimator *Estimator
	resolver  *Resolver
	submitter *Submitter
	confirmer *Confirmer
}

func New(cfg Config, ledger Ledger, treasury Treasury, repo store.BatchRepository, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Capacities.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRecipients < 1 {
		return nil, fmt.Errorf("max recipients must be >= 1, got %d", cfg.MaxRecipients)
	}
	if repo == nil {
		repo = store.NoopBatchRepository{}
	}
	if cfg.Alerter == nil {
		cfg.Alerter = &alert.NoopAlerter{}
	}
	logger = logger.With("component", "pipeline", "network", cfg.Network)

	return &Pipeline{
		cfg:       cfg,
		ledger:    ledger,
		treasury:  treasury,
		repo:      repo,
		logger:    logger,
		tracer:    tracing.Tracer("pipeline"),
		estimator: NewEstimator(cfg.Capacities, cfg.ServiceFeePercent),
		resolver:  NewResolver(ledger, treasury.PublicKey(), cfg.ResolveConcurrency),
		submitter: NewSubmitter(ledger, treasury, logger),
		confirmer: NewConfirmer(ledger, cfg.ConfirmPollInterval, cfg.ConfirmTimeout, logger),
	}, nil
}

// Quote is the network-free estimate for a batch of the given size.
func (p *Pipeline) Quote(recipients int, token string) model.Quote {
	q := p.estimator.Quote(recipients, token)
	metrics.QuotesTotal.WithLabelValues(string(q.Kind)).Inc()
	return q
}

// batchSpec is everything execute needs beyond the instruction groups.
type batchSpec struct {
	kind     model.AssetKind
	mint     string
	decimals *int
}

// SendNative pays every recipient in SOL. A non-nil error means nothing was
// signed; once a chunk was attempted the result is returned instead.
func (p *Pipeline) SendNative(ctx context.Context, req model.NativeBatchRequest) (result *model.BatchResult, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.SendNative")
	defer func() { tracing.EndSpan(span, err) }()

	recipients, err := ValidateRecipients(req.Recipients, p.cfg.MaxRecipients)
	if err != nil {
		return nil, p.reject(model.AssetKindNative, "validation", err)
	}
	span.SetAttributes(attribute.Int("batch.recipients", len(recipients)))

	groups, err := BuildNativeGroups(p.treasury.PublicKey(), recipients)
	if err != nil {
		return nil, p.reject(model.AssetKindNative, "validation", err)
	}
	return p.execute(ctx, span, batchSpec{kind: model.AssetKindNative}, groups)
}

// SendToken pays every recipient in the SPL token identified by req.Mint,
// creating missing associated token accounts on the way.
func (p *Pipeline) SendToken(ctx context.Context, req model.TokenBatchRequest) (result *model.BatchResult, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.SendToken")
	defer func() { tracing.EndSpan(span, err) }()
	kind := model.AssetKindToken

	mint, err := ValidateMint(req.Mint)
	if err != nil {
		return nil, p.reject(kind, "validation", err)
	}
	recipients, err := ValidateRecipients(req.Recipients, p.cfg.MaxRecipients)
	if err != nil {
		return nil, p.reject(kind, "validation", err)
	}
	span.SetAttributes(
		attribute.Int("batch.recipients", len(recipients)),
		attribute.String("batch.mint", mint.String()),
	)

	decimals, err := p.ledger.MintDecimals(ctx, mint)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) || errors.Is(err, model.ErrNotTokenMint) {
			return nil, p.reject(kind, "validation", invalid(-1, "mint", req.Mint, err.Error()))
		}
		return nil, p.reject(kind, "resolution", fmt.Errorf("%w: fetch mint decimals: %w", ErrResolution, err))
	}

	source, err := p.resolver.Resolve(ctx, mint, p.treasury.PublicKey())
	if err != nil {
		return nil, p.reject(kind, "resolution", err)
	}
	if source.Create != nil {
		return nil, p.reject(kind, "validation", invalid(-1, "mint", req.Mint,
			fmt.Sprintf("treasury has no token account for mint %s", mint)))
	}

	owners := make([]solana.PublicKey, len(recipients))
	for i, r := range recipients {
		owners[i] = r.Address
	}
	resolutions, err := p.resolver.ResolveAll(ctx, mint, owners)
	if err != nil {
		return nil, p.reject(kind, "resolution", err)
	}

	groups, err := BuildTokenGroups(p.treasury.PublicKey(), mint, decimals, recipients, resolutions)
	if err != nil {
		return nil, p.reject(kind, "validation", err)
	}
	d := int(decimals)
	return p.execute(ctx, span, batchSpec{kind: kind, mint: mint.String(), decimals: &d}, groups)
}

func (p *Pipeline) execute(ctx context.Context, span trace.Span, spec batchSpec, groups []model.InstructionGroup) (*model.BatchResult, error) {
	start := time.Now()
	kind := spec.kind

	chunks, err := Pack(groups, p.cfg.Capacities.For(kind))
	if err != nil {
		return nil, p.reject(kind, "packing", err)
	}

	window, err := LeaseWindow(ctx, p.ledger)
	if err != nil {
		return nil, p.reject(kind, "resolution", err)
	}

	batchID := uuid.New()
	span.SetAttributes(attribute.String("batch.id", batchID.String()), attribute.Int("batch.chunks", len(chunks)))
	logger := p.logger.With("batch_id", batchID, "kind", kind)
	logger.Info("batch leased window",
		"recipients", len(groups),
		"chunks", len(chunks),
		"blockhash", window.Blockhash.String(),
		"last_valid_block_height", window.LastValidBlockHeight,
	)

	// Persistence and confirmation continue if the caller goes away: the
	// chunks already on the wire must still be accounted for.
	detached := context.WithoutCancel(ctx)
	p.persist(logger, "create", p.repo.CreateBatch(detached, &model.BatchRecord{
		ID:         batchID,
		Kind:       kind,
		Network:    p.cfg.Network,
		Mint:       spec.mint,
		Recipients: len(groups),
		CreatedAt:  time.Now().UTC(),
	}))

	records := p.submitter.Submit(ctx, kind, chunks, window, func(rec model.SubmissionRecord) {
		p.persist(logger, "record_submission", p.repo.RecordSubmission(detached, batchID, rec))
	})
	p.confirmer.Wait(detached, kind, records, window)

	result := &model.BatchResult{
		BatchID:    batchID,
		Kind:       kind,
		Token:      spec.mint,
		Decimals:   spec.decimals,
		Recipients: len(groups),
		Chunks:     records,
	}
	if kind == model.AssetKindToken {
		created := 0
		for _, g := range groups {
			if g.CreatesAccount {
				created++
			}
		}
		result.ATAsCreated = &created
		metrics.AccountsCreated.Add(float64(created))
	}
	result.Summarize(p.cfg.Network)
	if !result.Success {
		result.Error = fmt.Sprintf("%d of %d chunks not confirmed", len(result.FailedChunks), len(result.Chunks))
	}

	p.persist(logger, "complete", p.repo.CompleteBatch(detached, batchID, result.Outcome, records))

	metrics.BatchesTotal.WithLabelValues(string(kind), string(result.Outcome)).Inc()
	metrics.BatchRecipients.WithLabelValues(string(kind)).Add(float64(len(groups)))
	metrics.BatchLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("batch.outcome", string(result.Outcome)))

	logger.Info("batch finished",
		"outcome", result.Outcome,
		"transactions", result.Transactions,
		"confirmed_chunks", len(result.ConfirmedChunks),
		"failed_chunks", len(result.FailedChunks),
		"duration", time.Since(start),
	)
	p.alertOutcome(detached, logger, result)
	return result, nil
}

// Status reports the cluster's view of one signature.
func (p *Pipeline) Status(ctx context.Context, signature string) (*model.TxStatusReport, error) {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(signature))
	if err != nil {
		return nil, invalid(-1, "signature", signature, "signature must be a base58 transaction signature")
	}

	var (
		state   *model.SignatureState
		details *model.TxDetails
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = p.ledger.SignatureStatus(gctx, sig)
		return err
	})
	g.Go(func() error {
		var err error
		details, err = p.ledger.Transaction(gctx, sig)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: fetch status: %w", ErrResolution, err)
	}
	if state == nil && details == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sig)
	}

	report := &model.TxStatusReport{
		Signature: sig.String(),
		Status:    "unknown",
		Err:       []byte("null"),
		Explorer:  p.cfg.Network.ExplorerURL(sig.String()),
	}
	if state != nil {
		if state.ConfirmationStatus != "" {
			report.Status = state.ConfirmationStatus
		}
		if state.Failed() {
			report.Err = state.Err
		}
		slot := state.Slot
		report.Slot = &slot
	}
	if details != nil {
		slot, fee := details.Slot, details.Fee
		report.Slot = &slot
		report.Fee = &fee
		report.BlockTime = details.BlockTime
	}
	return report, nil
}

func (p *Pipeline) reject(kind model.AssetKind, stage string, err error) error {
	metrics.BatchRejections.WithLabelValues(string(kind), stage).Inc()
	metrics.BatchesTotal.WithLabelValues(string(kind), string(model.BatchOutcomeRejected)).Inc()
	p.logger.Warn("batch rejected", "kind", kind, "stage", stage, "error", err)
	return err
}

// persist logs and counts a failed audit write. It never changes the result.
func (p *Pipeline) persist(logger *slog.Logger, op string, err error) {
	if err == nil {
		return
	}
	metrics.LedgerWriteErrors.WithLabelValues(op).Inc()
	logger.Error("batch ledger write failed", "operation", op, "error", err)
}

func (p *Pipeline) alertOutcome(ctx context.Context, logger *slog.Logger, result *model.BatchResult) {
	var a alert.Alert
	switch result.Outcome {
	case model.BatchOutcomePartial:
		a = alert.Alert{Type: alert.AlertTypePartialBatch, Title: "Batch partially confirmed"}
	case model.BatchOutcomeFailed:
		a = alert.Alert{Type: alert.AlertTypeBatchFailed, Title: "Batch failed"}
	default:
		return
	}
	a.Network = string(p.cfg.Network)
	a.DedupKey = result.BatchID.String()
	a.Message = fmt.Sprintf("%d of %d chunks confirmed; %d signatures issued. Reconcile the failed chunks before re-sending.",
		len(result.ConfirmedChunks), len(result.Chunks), result.Transactions)
	a.Fields = map[string]string{
		"batch_id":      result.BatchID.String(),
		"kind":          string(result.Kind),
		"failed_chunks": joinInts(result.FailedChunks),
		"signatures":    strings.Join(result.Signatures, ","),
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.cfg.Alerter.Send(ctx, a); err != nil {
		logger.Warn("batch alert failed", "error", err)
	}
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
