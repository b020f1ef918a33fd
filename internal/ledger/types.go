package ledger

import (
	"context"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// State enumerates the connection manager lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateValidating   State = "validating"
	StateHealthy      State = "healthy"
	StateUnhealthy    State = "unhealthy"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ChainSnapshot gathers lightweight chain metadata used by the agent loop.
type ChainSnapshot struct {
	BlockNumber uint64
	GasPrice    *big.Int
	Timestamp   time.Time
}

// Health reports whether the live connection is currently usable together
// with the most recent block observed on it.
type Health struct {
	Healthy        bool
	LastKnownBlock uint64
}

// Backend mirrors the subset of ethclient.Client the manager depends on, so
// tests can substitute an in-memory implementation.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *coretypes.Header) (gethcore.Subscription, error)
	Close()
}
