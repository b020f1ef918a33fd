package market

import (
	"context"
	"time"

	"github.com/reikadev/reika-onchain/internal/ledger"
)

// Snapshot 承载转发给决策提供方的市场观测数据。
// 内容对监督器是不透明的，核心只负责透传。
type Snapshot struct {
	BlockNumber uint64         `json:"block_number"`
	GasPriceWei string         `json:"gas_price_wei"`
	ObservedAt  time.Time      `json:"observed_at"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Provider 定义市场数据采集接口。
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ChainProvider 从账本连接派生基础市场观测（区块高度与手续费）。
type ChainProvider struct {
	conn *ledger.Manager
}

// NewChainProvider 构造基于链上数据的市场观测实现。
func NewChainProvider(conn *ledger.Manager) *ChainProvider {
	return &ChainProvider{conn: conn}
}

// Snapshot 实现 Provider 接口。
func (p *ChainProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	chain, err := p.conn.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	gasPrice := "0"
	if chain.GasPrice != nil {
		gasPrice = chain.GasPrice.String()
	}
	return Snapshot{
		BlockNumber: chain.BlockNumber,
		GasPriceWei: gasPrice,
		ObservedAt:  chain.Timestamp,
	}, nil
}
