package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testTreasury struct {
	key solana.PrivateKey
}

func newTestTreasury(t *testing.T) *testTreasury {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return &testTreasury{key: key}
}

func (tr *testTreasury) PublicKey() solana.PublicKey { return tr.key.PublicKey() }

func (tr *testTreasury) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(tr.key.PublicKey()) {
			return &tr.key
		}
		return nil
	})
	return err
}

func newAddress(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey()
}

func rawRecipients(t *testing.T, n int, amount string) []model.RawRecipient {
	t.Helper()
	out := make([]model.RawRecipient, n)
	for i := range out {
		out[i] = model.RawRecipient{Address: newAddress(t).String(), Amount: json.RawMessage(amount)}
	}
	return out
}

func validRecipients(t *testing.T, n int, amount string) []model.Recipient {
	t.Helper()
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{Index: i, Address: newAddress(t), Amount: decimal.RequireFromString(amount)}
	}
	return out
}

// fakeLedger is a deterministic in-memory cluster.
type fakeLedger struct {
	mu sync.Mutex

	window     model.ValidityWindow
	windowErr  error
	accounts   map[solana.PublicKey]bool
	decimals   map[solana.PublicKey]uint8
	accountErr error

	sent       []*solana.Transaction
	sendErrAt  map[int]error
	sigIndex   map[solana.Signature]int
	height     uint64
	heightFn   func() uint64
	statusFn   func(sendIndex int) *model.SignatureState
	details    map[solana.Signature]*model.TxDetails
	networkOps int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		window: model.ValidityWindow{
			Blockhash:            solana.MustHashFromBase58("EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"),
			LastValidBlockHeight: 1000,
		},
		accounts:  make(map[solana.PublicKey]bool),
		decimals:  make(map[solana.PublicKey]uint8),
		sendErrAt: make(map[int]error),
		sigIndex:  make(map[solana.Signature]int),
		details:   make(map[solana.Signature]*model.TxDetails),
		height:    10,
		statusFn: func(int) *model.SignatureState {
			return &model.SignatureState{Slot: 42, ConfirmationStatus: "confirmed"}
		},
	}
}

func (f *fakeLedger) op() {
	f.mu.Lock()
	f.networkOps++
	f.mu.Unlock()
}

func (f *fakeLedger) LatestWindow(context.Context) (model.ValidityWindow, error) {
	f.op()
	return f.window, f.windowErr
}

func (f *fakeLedger) AccountExists(_ context.Context, address solana.PublicKey) (bool, error) {
	f.op()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return false, f.accountErr
	}
	return f.accounts[address], nil
}

func (f *fakeLedger) MintDecimals(_ context.Context, mint solana.PublicKey) (uint8, error) {
	f.op()
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.decimals[mint]
	if !ok {
		return 0, fmt.Errorf("mint %s: %w", mint, model.ErrAccountNotFound)
	}
	return d, nil
}

func (f *fakeLedger) Send(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.op()
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.sent)
	f.sent = append(f.sent, tx)
	if err, ok := f.sendErrAt[idx]; ok {
		return solana.Signature{}, err
	}
	f.sigIndex[tx.Signatures[0]] = idx
	return tx.Signatures[0], nil
}

func (f *fakeLedger) SignatureStatus(_ context.Context, sig solana.Signature) (*model.SignatureState, error) {
	f.op()
	f.mu.Lock()
	defer f.mu.Unlock()
	idx, ok := f.sigIndex[sig]
	if !ok {
		return nil, nil
	}
	return f.statusFn(idx), nil
}

func (f *fakeLedger) BlockHeight(context.Context) (uint64, error) {
	f.op()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heightFn != nil {
		return f.heightFn(), nil
	}
	return f.height, nil
}

func (f *fakeLedger) Transaction(_ context.Context, sig solana.Signature) (*model.TxDetails, error) {
	f.op()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.details[sig], nil
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// recordingRepo captures audit writes.
type recordingRepo struct {
	mu          sync.Mutex
	created     []*model.BatchRecord
	submissions []model.SubmissionRecord
	outcome     model.BatchOutcome
	completed   []model.SubmissionRecord
	failWith    error
}

func (r *recordingRepo) CreateBatch(_ context.Context, b *model.BatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, b)
	return r.failWith
}

func (r *recordingRepo) RecordSubmission(_ context.Context, _ uuid.UUID, rec model.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, rec)
	return r.failWith
}

func (r *recordingRepo) CompleteBatch(_ context.Context, _ uuid.UUID, outcome model.BatchOutcome, chunks []model.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
	r.completed = chunks
	return r.failWith
}

func (r *recordingRepo) GetBatch(context.Context, uuid.UUID) (*model.BatchRecord, error) {
	return nil, nil
}

func testConfig() Config {
	return Config{
		Network:             model.NetworkDevnet,
		MaxRecipients:       1000,
		Capacities:          Capacities{Native: 14, Token: 7},
		ResolveConcurrency:  4,
		ConfirmPollInterval: time.Millisecond,
		ConfirmTimeout:      2 * time.Second,
		ServiceFeePercent:   decimal.RequireFromString("0.3"),
	}
}
