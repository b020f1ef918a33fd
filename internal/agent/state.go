package agent

import (
	"math/big"
	"time"
)

// PerformanceMetrics 记录运行以来的资产表现。
// ROI 以万分位整数表示（两位隐含小数的百分比）。
type PerformanceMetrics struct {
	StartTime      time.Time `json:"start_time"`
	InitialValue   *big.Int  `json:"initial_value"`
	CurrentValue   *big.Int  `json:"current_value"`
	ROIBasisPoints int64     `json:"roi_basis_points"`
}

// State 是监督器独占持有的智能体状态，只在主循环内被修改。
type State struct {
	LastAnalysisAt   time.Time          `json:"last_analysis_at"`
	CurrentBalance   *big.Int           `json:"current_balance"`
	Metrics          PerformanceMetrics `json:"metrics"`
	ActiveStrategies []string           `json:"active_strategies"`
}

// clone 返回状态的深拷贝，外部读取方永远看不到半更新的状态。
func (s State) clone() State {
	out := State{
		LastAnalysisAt: s.LastAnalysisAt,
		Metrics: PerformanceMetrics{
			StartTime:      s.Metrics.StartTime,
			ROIBasisPoints: s.Metrics.ROIBasisPoints,
		},
	}
	if s.CurrentBalance != nil {
		out.CurrentBalance = new(big.Int).Set(s.CurrentBalance)
	}
	if s.Metrics.InitialValue != nil {
		out.Metrics.InitialValue = new(big.Int).Set(s.Metrics.InitialValue)
	}
	if s.Metrics.CurrentValue != nil {
		out.Metrics.CurrentValue = new(big.Int).Set(s.Metrics.CurrentValue)
	}
	if len(s.ActiveStrategies) > 0 {
		out.ActiveStrategies = append([]string(nil), s.ActiveStrategies...)
	}
	return out
}

// computeROI 以整数精确计算 (current-initial)*10000/initial，
// 向下取整。初始值为零时定义为 0，避免除零。
func computeROI(initial, current *big.Int) int64 {
	if initial == nil || initial.Sign() == 0 || current == nil {
		return 0
	}
	diff := new(big.Int).Sub(current, initial)
	diff.Mul(diff, big.NewInt(10000))
	// Div 对正除数执行向下取整。
	diff.Div(diff, initial)
	return diff.Int64()
}
