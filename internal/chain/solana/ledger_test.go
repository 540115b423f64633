package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/plagtech/spraay-solana-gateway/internal/alert"
	"github.com/plagtech/spraay-solana-gateway/internal/chain/solana/rpc"
	"github.com/plagtech/spraay-solana-gateway/internal/chain/solana/rpc/mocks"
	"github.com/plagtech/spraay-solana-gateway/internal/circuitbreaker"
	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type alertSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (s *alertSink) Send(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *alertSink) types() []alert.AlertType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alert.AlertType, len(s.alerts))
	for i, a := range s.alerts {
		out[i] = a.Type
	}
	return out
}

func newTestLedger(t *testing.T, mutate func(*LedgerConfig)) (*Ledger, *mocks.MockRPCClient) {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mocks.NewMockRPCClient(ctrl)
	cfg := LedgerConfig{
		Network:                 model.NetworkDevnet,
		ReadRetries:             2,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      time.Minute,
		MintCacheSize:           16,
		MintCacheTTL:            time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewLedger(client, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), client
}

func mintAccount(decimals uint8) *rpc.AccountInfo {
	data := make([]byte, mintAccountSize)
	data[mintDecimalsOffset] = decimals
	data[45] = 1
	return &rpc.AccountInfo{
		Owner: solanago.TokenProgramID.String(),
		Data:  [2]string{base64.StdEncoding.EncodeToString(data), "base64"},
	}
}

func TestLedger_LatestWindow(t *testing.T) {
	l, client := newTestLedger(t, nil)
	client.EXPECT().GetLatestBlockhash(gomock.Any(), "confirmed").Return(&rpc.LatestBlockhash{
		Blockhash:            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		LastValidBlockHeight: 3090,
	}, nil)

	window, err := l.LatestWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", window.Blockhash.String())
	assert.Equal(t, uint64(3090), window.LastValidBlockHeight)
}

func TestLedger_ReadsRetryTransientErrors(t *testing.T) {
	l, client := newTestLedger(t, nil)
	gomock.InOrder(
		client.EXPECT().GetBlockHeight(gomock.Any(), "confirmed").Return(uint64(0), &rpc.RPCError{Code: -32005, Message: "node is behind"}),
		client.EXPECT().GetBlockHeight(gomock.Any(), "confirmed").Return(uint64(77), nil),
	)

	height, err := l.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(77), height)
}

func TestLedger_ReadsDoNotRetryTerminalErrors(t *testing.T) {
	l, client := newTestLedger(t, nil)
	client.EXPECT().GetAccountInfo(gomock.Any(), gomock.Any(), "confirmed").
		Return(nil, &rpc.RPCError{Code: -32602, Message: "Invalid param"}).Times(1)

	_, err := l.AccountExists(context.Background(), solanago.SystemProgramID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getAccountInfo")
}

func TestLedger_AccountExists(t *testing.T) {
	l, client := newTestLedger(t, nil)
	present, missing := newKey(t).PublicKey(), newKey(t).PublicKey()
	client.EXPECT().GetAccountInfo(gomock.Any(), present.String(), "confirmed").Return(&rpc.AccountInfo{Lamports: 1}, nil)
	client.EXPECT().GetAccountInfo(gomock.Any(), missing.String(), "confirmed").Return(nil, nil)

	ok, err := l.AccountExists(context.Background(), present)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.AccountExists(context.Background(), missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedger_MintDecimalsCached(t *testing.T) {
	l, client := newTestLedger(t, nil)
	mint := newKey(t).PublicKey()
	client.EXPECT().GetAccountInfo(gomock.Any(), mint.String(), "confirmed").Return(mintAccount(6), nil).Times(1)

	for i := 0; i < 3; i++ {
		d, err := l.MintDecimals(context.Background(), mint)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), d)
	}
}

func TestLedger_MintDecimalsRejectsNonMints(t *testing.T) {
	l, client := newTestLedger(t, nil)

	missing := newKey(t).PublicKey()
	client.EXPECT().GetAccountInfo(gomock.Any(), missing.String(), gomock.Any()).Return(nil, nil)
	_, err := l.MintDecimals(context.Background(), missing)
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	wallet := newKey(t).PublicKey()
	client.EXPECT().GetAccountInfo(gomock.Any(), wallet.String(), gomock.Any()).
		Return(&rpc.AccountInfo{Owner: solanago.SystemProgramID.String()}, nil)
	_, err = l.MintDecimals(context.Background(), wallet)
	assert.ErrorIs(t, err, model.ErrNotTokenMint)

	short := newKey(t).PublicKey()
	client.EXPECT().GetAccountInfo(gomock.Any(), short.String(), gomock.Any()).
		Return(&rpc.AccountInfo{Owner: solanago.TokenProgramID.String(), Data: [2]string{"AQID", "base64"}}, nil)
	_, err = l.MintDecimals(context.Background(), short)
	assert.ErrorIs(t, err, model.ErrNotTokenMint)
}

func signedTx(t *testing.T) *solanago.Transaction {
	t.Helper()
	key := newKey(t)
	ix := system.NewTransferInstruction(1, key.PublicKey(), newKey(t).PublicKey()).Build()
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, solanago.Hash{7}, solanago.TransactionPayer(key.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(solanago.PublicKey) *solanago.PrivateKey { return &key })
	require.NoError(t, err)
	return tx
}

func TestLedger_Send(t *testing.T) {
	l, client := newTestLedger(t, nil)
	tx := signedTx(t)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	client.EXPECT().SendTransaction(gomock.Any(), base64.StdEncoding.EncodeToString(raw), rpc.SendOptions{PreflightCommitment: "confirmed"}).
		Return(tx.Signatures[0].String(), nil)

	sig, err := l.Send(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Signatures[0], sig)
}

func TestLedger_SendIsNeverRetried(t *testing.T) {
	l, client := newTestLedger(t, nil)
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", &rpc.RPCError{Code: -32005, Message: "node is behind"}).Times(1)

	_, err := l.Send(context.Background(), signedTx(t))
	require.Error(t, err)
	var rpcErr *rpc.RPCError
	assert.ErrorAs(t, err, &rpcErr)
}

func TestLedger_SignatureStatus(t *testing.T) {
	l, client := newTestLedger(t, nil)
	sig := signedTx(t).Signatures[0]
	confirmed := "finalized"

	client.EXPECT().GetSignatureStatuses(gomock.Any(), []string{sig.String()}).Return([]*rpc.SignatureStatus{{
		Slot:               90,
		Err:                json.RawMessage(`null`),
		ConfirmationStatus: &confirmed,
	}}, nil)
	state, err := l.SignatureStatus(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint64(90), state.Slot)
	assert.True(t, state.Confirmed())

	client.EXPECT().GetSignatureStatuses(gomock.Any(), gomock.Any()).Return([]*rpc.SignatureStatus{nil}, nil)
	state, err = l.SignatureStatus(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestLedger_Transaction(t *testing.T) {
	l, client := newTestLedger(t, nil)
	sig := signedTx(t).Signatures[0]
	blockTime := int64(1_700_000_000)

	client.EXPECT().GetTransaction(gomock.Any(), sig.String()).Return(&rpc.TransactionResponse{
		Slot:      430,
		BlockTime: &blockTime,
		Meta:      &rpc.TransactionMeta{Fee: 5000},
	}, nil)
	details, err := l.Transaction(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, uint64(430), details.Slot)
	assert.Equal(t, uint64(5000), details.Fee)
	assert.Equal(t, &blockTime, details.BlockTime)

	client.EXPECT().GetTransaction(gomock.Any(), sig.String()).Return(nil, nil)
	details, err = l.Transaction(context.Background(), sig)
	require.NoError(t, err)
	assert.Nil(t, details)
}

func TestLedger_BreakerOpensOnEndpointFailures(t *testing.T) {
	sink := &alertSink{}
	l, client := newTestLedger(t, func(cfg *LedgerConfig) {
		cfg.ReadRetries = 0
		cfg.BreakerFailureThreshold = 2
		cfg.Alerter = sink
	})
	client.EXPECT().GetBlockHeight(gomock.Any(), gomock.Any()).
		Return(uint64(0), errors.New("http status 503: upstream unavailable")).Times(2)

	for i := 0; i < 2; i++ {
		_, err := l.BlockHeight(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, l.BreakerState())

	_, err := l.BlockHeight(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	assert.Eventually(t, func() bool {
		types := sink.types()
		return len(types) == 1 && types[0] == alert.AlertTypeRPCDegraded
	}, time.Second, 5*time.Millisecond)
}

func TestLedger_RejectedTransactionsDoNotTripBreaker(t *testing.T) {
	l, client := newTestLedger(t, func(cfg *LedgerConfig) {
		cfg.BreakerFailureThreshold = 1
	})
	client.EXPECT().SendTransaction(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", &rpc.RPCError{Code: -32002, Message: "Transaction simulation failed"}).Times(3)

	for i := 0; i < 3; i++ {
		_, err := l.Send(context.Background(), signedTx(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}
	assert.Equal(t, circuitbreaker.StateClosed, l.BreakerState())
}

func TestLazyLedger_BuildsOnce(t *testing.T) {
	built := 0
	inner, client := newTestLedger(t, nil)
	client.EXPECT().GetBlockHeight(gomock.Any(), gomock.Any()).Return(uint64(5), nil).Times(2)

	lazy := NewLazyLedger(func() *Ledger {
		built++
		return inner
	})
	assert.Equal(t, 0, built)

	for i := 0; i < 2; i++ {
		h, err := lazy.BlockHeight(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(5), h)
	}
	assert.Equal(t, 1, built)
	assert.Same(t, inner, lazy.Ledger())
}
