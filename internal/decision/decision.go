package decision

import (
	"context"

	"github.com/reikadev/reika-onchain/internal/market"
)

// Action 枚举决策提供方可能给出的动作。
type Action string

const (
	ActionSwap             Action = "SWAP"
	ActionProvideLiquidity Action = "PROVIDE_LIQUIDITY"
	ActionRemoveLiquidity  Action = "REMOVE_LIQUIDITY"
	ActionStake            Action = "STAKE"
	ActionUnstake          Action = "UNSTAKE"
	ActionNone             Action = "NONE"
)

// Valid 判断动作是否在已知集合内。
func (a Action) Valid() bool {
	switch a {
	case ActionSwap, ActionProvideLiquidity, ActionRemoveLiquidity,
		ActionStake, ActionUnstake, ActionNone:
		return true
	}
	return false
}

// TransactionRequest 描述一笔待执行的转账请求。字段保持外部表示
// （十进制 wei 字符串、十六进制地址与数据），由执行器负责归一化。
type TransactionRequest struct {
	To       string `json:"to"`
	Value    string `json:"value,omitempty"`
	Payload  string `json:"payload,omitempty"`
	GasLimit uint64 `json:"gas_limit,omitempty"`
	GasPrice string `json:"gas_price,omitempty"`
}

// Decision 是决策提供方每个节拍产出的不可变结果。
// 仅当 Action 不为 NONE 且需要转账时 Transaction 才存在。
type Decision struct {
	Action          Action              `json:"action"`
	Reasoning       string              `json:"reasoning"`
	ExpectedOutcome string              `json:"expected_outcome,omitempty"`
	RiskAssessment  string              `json:"risk_assessment,omitempty"`
	Transaction     *TransactionRequest `json:"transaction,omitempty"`
}

// RequiresTransaction 判断该决策是否需要提交交易。
func (d *Decision) RequiresTransaction() bool {
	return d != nil && d.Action != ActionNone && d.Transaction != nil
}

// None 构造一个带说明的 NONE 决策。提供方调用失败时，
// 监督器也会合成这样的决策以保持节拍继续。
func None(reasoning string) *Decision {
	return &Decision{Action: ActionNone, Reasoning: reasoning}
}

// StateView 是提供给决策方的智能体状态视图，字段保持可序列化。
type StateView struct {
	Address          string   `json:"address"`
	Balance          string   `json:"balance"`
	ROIBasisPoints   int64    `json:"roi_basis_points"`
	ActiveStrategies []string `json:"active_strategies"`
	LastAnalysisAt   int64    `json:"last_analysis_at"`
}

// Provider 定义了获取决策的统一接口。实现方自行负责节流，
// 不愿行动时返回 NONE 并附上理由。
type Provider interface {
	Propose(ctx context.Context, state StateView, snapshot market.Snapshot) (*Decision, error)
}
