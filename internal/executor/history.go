package executor

import (
	"sync"
	"time"
)

// Result 记录一次交易执行的最终结果。失败在账本层面（回执状态 0）
// 同样是一条有效记录，而不是错误。
type Result struct {
	Hash           string    `json:"hash"`
	Success        bool      `json:"success"`
	Err            string    `json:"error,omitempty"`
	ConfirmedBlock uint64    `json:"confirmed_block,omitempty"`
	GasUsed        uint64    `json:"gas_used,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// History 是只追加的内存交易历史，容量有上限，超出后淘汰最旧记录。
type History struct {
	mu      sync.Mutex
	entries []Result
	limit   int
}

// NewHistory 创建指定容量上限的历史记录。
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 256
	}
	return &History{limit: limit}
}

// Append 追加一条记录，必要时淘汰最旧的记录。
func (h *History) Append(result Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	h.entries = append(h.entries, result)
	if len(h.entries) > h.limit {
		overflow := len(h.entries) - h.limit
		h.entries = append(h.entries[:0], h.entries[overflow:]...)
	}
}

// Snapshot 返回按完成时间排序的历史副本。
func (h *History) Snapshot() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Result, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len 返回当前记录数量。
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
