package decision

import (
	"context"

	"github.com/reikadev/reika-onchain/internal/market"
)

// Static 是一个永远返回 NONE 的决策提供方，用于演练模式与测试。
type Static struct {
	Reasoning string
}

// Propose 实现 Provider 接口。
func (s Static) Propose(_ context.Context, _ StateView, _ market.Snapshot) (*Decision, error) {
	reasoning := s.Reasoning
	if reasoning == "" {
		reasoning = "演练模式，不执行任何链上操作"
	}
	return None(reasoning), nil
}
