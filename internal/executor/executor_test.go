package executor

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/reikadev/reika-onchain/internal/decision"
	xerrors "github.com/reikadev/reika-onchain/internal/errors"
	"github.com/reikadev/reika-onchain/internal/keys"
	"github.com/reikadev/reika-onchain/internal/ledger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeBackend struct {
	mu       sync.Mutex
	gasPrice *big.Int
	nonce    uint64
	nonceErr error
	sendErr  error
	sent     []*coretypes.Transaction
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 0, nil
}

func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if b.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set(b.gasPrice), nil
}

func (b *fakeBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 21000, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	if b.nonceErr != nil {
		return 0, b.nonceErr
	}
	return b.nonce, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return nil, gethcore.NotFound
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{Number: big.NewInt(0)}, nil
}

func (b *fakeBackend) SubscribeNewHead(context.Context, chan<- *coretypes.Header) (gethcore.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBackend) Close() {}

type fakeConn struct {
	backend     *fakeBackend
	connErr     error
	estimateGas uint64
	estimateErr error
	estimated   int
	receipt     *coretypes.Receipt
	waitErr     error
}

func (c *fakeConn) Connection() (ledger.Backend, error) {
	if c.connErr != nil {
		return nil, c.connErr
	}
	return c.backend, nil
}

func (c *fakeConn) EstimateFee(context.Context, gethcore.CallMsg) (uint64, error) {
	c.estimated++
	if c.estimateErr != nil {
		return 0, c.estimateErr
	}
	if c.estimateGas == 0 {
		return 21000, nil
	}
	return c.estimateGas, nil
}

func (c *fakeConn) WaitForConfirmation(context.Context, common.Hash, int) (*coretypes.Receipt, error) {
	if c.waitErr != nil {
		return nil, c.waitErr
	}
	return c.receipt, nil
}

func newTestSigner(t *testing.T) *keys.Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	custodian, err := keys.New("s3cr3t-minimum-32-characters-long!!")
	if err != nil {
		t.Fatalf("new custodian: %v", err)
	}
	if err := custodian.Store(hex.EncodeToString(crypto.FromECDSA(key))); err != nil {
		t.Fatalf("store key: %v", err)
	}
	signer, err := custodian.Signer(big.NewInt(1337))
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	return signer
}

func successReceipt(block int64) *coretypes.Receipt {
	return &coretypes.Receipt{
		Status:      coretypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(block),
		GasUsed:     21000,
	}
}

func testRequest() *decision.TransactionRequest {
	return &decision.TransactionRequest{
		To:    "0x00000000000000000000000000000000000000aa",
		Value: "1000000000000000000",
	}
}

func TestExecuteSuccess(t *testing.T) {
	conn := &fakeConn{backend: &fakeBackend{}, receipt: successReceipt(7)}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	result, err := exec.Execute(context.Background(), testRequest(), signer, conn)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Hash == "" || result.ConfirmedBlock != 7 || result.GasUsed != 21000 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if conn.estimated != 1 {
		t.Fatalf("expected one gas estimation, got %d", conn.estimated)
	}
	if exec.History().Len() != 1 {
		t.Fatalf("expected one history entry, got %d", exec.History().Len())
	}
}

func TestExecuteRevertedIsNotAnError(t *testing.T) {
	conn := &fakeConn{backend: &fakeBackend{}, receipt: &coretypes.Receipt{
		Status:      coretypes.ReceiptStatusFailed,
		BlockNumber: big.NewInt(9),
		GasUsed:     30000,
	}}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	result, err := exec.Execute(context.Background(), testRequest(), signer, conn)
	if err != nil {
		t.Fatalf("a reverted transaction must not surface as an error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failed result")
	}
	if result.Err == "" {
		t.Fatalf("reverted result must carry a reason")
	}

	entries := exec.History().Snapshot()
	if len(entries) != 1 || entries[0].Success {
		t.Fatalf("reverted transaction must be recorded as failed: %+v", entries)
	}
}

func TestExecuteRefusesDegradedConnection(t *testing.T) {
	conn := &fakeConn{connErr: xerrors.New(xerrors.CodeUnhealthy, "")}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	_, err := exec.Execute(context.Background(), testRequest(), signer, conn)
	if xerrors.CodeOf(err) != xerrors.CodePreconditionFailure {
		t.Fatalf("expected PRECONDITION_FAILURE, got %v", err)
	}
	if exec.History().Len() != 0 {
		t.Fatalf("precondition failure must not touch history")
	}
}

func TestExecuteEstimationFailure(t *testing.T) {
	conn := &fakeConn{backend: &fakeBackend{}, estimateErr: errors.New("execution reverted")}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	_, err := exec.Execute(context.Background(), testRequest(), signer, conn)
	if xerrors.CodeOf(err) != xerrors.CodeEstimationFailure {
		t.Fatalf("expected ESTIMATION_FAILURE, got %v", err)
	}
	if exec.History().Len() != 0 {
		t.Fatalf("estimation failure must not touch history")
	}
}

func TestExecuteBroadcastFailureIsRecorded(t *testing.T) {
	conn := &fakeConn{backend: &fakeBackend{sendErr: errors.New("nonce too low")}}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	_, err := exec.Execute(context.Background(), testRequest(), signer, conn)
	if xerrors.CodeOf(err) != xerrors.CodeSubmissionFailure {
		t.Fatalf("expected SUBMISSION_FAILURE, got %v", err)
	}

	entries := exec.History().Snapshot()
	if len(entries) != 1 || entries[0].Success {
		t.Fatalf("broadcast failure must be recorded as failed: %+v", entries)
	}
}

func TestExecuteConfirmationFailureIsRecorded(t *testing.T) {
	conn := &fakeConn{backend: &fakeBackend{}, waitErr: errors.New("context deadline exceeded")}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	_, err := exec.Execute(context.Background(), testRequest(), signer, conn)
	if xerrors.CodeOf(err) != xerrors.CodeSubmissionFailure {
		t.Fatalf("expected SUBMISSION_FAILURE, got %v", err)
	}

	entries := exec.History().Snapshot()
	if len(entries) != 1 || entries[0].Hash == "" {
		t.Fatalf("confirmation failure must record the broadcast hash: %+v", entries)
	}
}

func TestExecuteRejectsInvalidRequest(t *testing.T) {
	conn := &fakeConn{backend: &fakeBackend{}, receipt: successReceipt(1)}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	cases := []struct {
		name string
		req  *decision.TransactionRequest
	}{
		{"bad address", &decision.TransactionRequest{To: "not-an-address"}},
		{"bad value", &decision.TransactionRequest{To: testRequest().To, Value: "bogus"}},
		{"negative value", &decision.TransactionRequest{To: testRequest().To, Value: "-5"}},
		{"bad payload", &decision.TransactionRequest{To: testRequest().To, Payload: "zz"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := exec.Execute(context.Background(), tc.req, signer, conn)
			if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
	if exec.History().Len() != 0 {
		t.Fatalf("invalid requests must not touch history")
	}
}

func TestExecuteHonoursExplicitGasFields(t *testing.T) {
	backend := &fakeBackend{}
	conn := &fakeConn{backend: backend, receipt: successReceipt(3)}
	exec := New(NewHistory(8))
	signer := newTestSigner(t)
	defer signer.Destroy()

	req := testRequest()
	req.GasLimit = 50000
	req.GasPrice = "7"

	if _, err := exec.Execute(context.Background(), req, signer, conn); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if conn.estimated != 0 {
		t.Fatalf("explicit gas limit must skip estimation")
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast transaction")
	}
	tx := backend.sent[0]
	if tx.Gas() != 50000 {
		t.Fatalf("unexpected gas limit: %d", tx.Gas())
	}
	if tx.GasPrice().Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("unexpected gas price: %s", tx.GasPrice())
	}
}

func TestParseBig(t *testing.T) {
	cases := []struct {
		raw  string
		want *big.Int
		ok   bool
	}{
		{"", nil, true},
		{"123", big.NewInt(123), true},
		{"0x10", big.NewInt(16), true},
		{"bogus", nil, false},
	}
	for _, tc := range cases {
		got, err := parseBig(tc.raw)
		if tc.ok && err != nil {
			t.Fatalf("parseBig(%q): %v", tc.raw, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("parseBig(%q): expected error", tc.raw)
			}
			continue
		}
		if tc.want == nil {
			if got != nil {
				t.Fatalf("parseBig(%q): expected nil, got %s", tc.raw, got)
			}
			continue
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("parseBig(%q): got %s want %s", tc.raw, got, tc.want)
		}
	}
}
