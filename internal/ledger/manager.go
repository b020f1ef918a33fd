package ledger

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "github.com/reikadev/reika-onchain/internal/errors"
	"github.com/reikadev/reika-onchain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// DialFunc 建立到账本节点的连接。测试通过替换它注入内存后端。
type DialFunc func(ctx context.Context, rawurl string) (Backend, error)

// Config 描述连接管理器的端点与重连参数。
type Config struct {
	RPCURL            string
	WSURL             string
	ChainID           *big.Int
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PollInterval      time.Duration
}

// Manager 维护账本连接的健康状态。后台监听协程只写入健康标志和
// 最新区块高度，绝不触碰 AgentState，因此与主循环之间只需这把锁。
type Manager struct {
	cfg  Config
	dial DialFunc
	log  *slog.Logger

	receiptPoll time.Duration

	mu             sync.Mutex
	state          State
	healthy        bool
	lastKnownBlock uint64
	backend        Backend
	subBackend     Backend

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// Option 定义可选配置。
type Option func(*Manager)

// WithDialer 替换默认的以太坊拨号函数。
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithReceiptPollInterval 调整等待回执时的轮询间隔，主要用于测试。
func WithReceiptPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.receiptPoll = interval
		}
	}
}

// NewManager 构造连接管理器，不建立连接。
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置账本 RPC 地址")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置预期链 ID")
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 3
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 12 * time.Second
	}

	m := &Manager{
		cfg:         cfg,
		dial:        dialEthereum,
		log:         logger.Named("ledger"),
		receiptPoll: time.Second,
		state:       StateDisconnected,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// dialEthereum 是默认拨号实现。
func dialEthereum(ctx context.Context, rawurl string) (Backend, error) {
	rpcClient, err := gethrpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(rpcClient), nil
}

// Connect 建立连接、校验链 ID 并启动区块监听。
// 链 ID 不匹配是配置错误，永久失败且不重试。
func (m *Manager) Connect(ctx context.Context) error {
	m.setState(StateValidating)

	backend, subBackend, block, err := m.open(ctx)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeChainMismatch {
			m.setState(StateFailed)
		} else {
			m.setState(StateDisconnected)
		}
		return err
	}

	m.mu.Lock()
	m.backend = backend
	m.subBackend = subBackend
	m.lastKnownBlock = block
	m.healthy = true
	m.state = StateHealthy
	m.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel
	m.watchDone = make(chan struct{})
	go m.watch(watchCtx)

	m.log.Info("账本连接就绪",
		slog.String("rpc_url", m.cfg.RPCURL),
		slog.String("chain_id", m.cfg.ChainID.String()),
		slog.Uint64("block", block),
	)
	return nil
}

// open 拨号并校验链 ID，返回主后端、订阅后端与当前区块高度。
func (m *Manager) open(ctx context.Context) (Backend, Backend, uint64, error) {
	backend, err := m.dial(ctx, m.cfg.RPCURL)
	if err != nil {
		return nil, nil, 0, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "连接账本节点失败")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, 0, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取链 ID 失败")
	}
	if chainID.Cmp(m.cfg.ChainID) != 0 {
		backend.Close()
		return nil, nil, 0, xerrors.New(xerrors.CodeChainMismatch,
			"节点链 ID "+chainID.String()+" 与预期 "+m.cfg.ChainID.String()+" 不符")
	}

	block, err := backend.BlockNumber(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, 0, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取最新区块高度失败")
	}

	var subBackend Backend
	if wsURL := strings.TrimSpace(m.cfg.WSURL); wsURL != "" {
		if ws, wsErr := m.dial(ctx, wsURL); wsErr == nil {
			subBackend = ws
		} else {
			m.log.Warn("WS 端点不可用，回退到主端点", slog.Any("error", wsErr))
		}
	}
	return backend, subBackend, block, nil
}

// watch 维持区块通知：优先使用订阅，不支持时降级为轮询。
// 任何传输层故障进入有界重连流程。
func (m *Manager) watch(ctx context.Context) {
	defer close(m.watchDone)

	for {
		if err := m.streamHeads(ctx); err == nil {
			// 上下文取消，正常退出。
			return
		}
		m.markUnhealthy()

		if !m.reconnect(ctx) {
			return
		}
	}
}

// streamHeads 返回 nil 表示上下文取消，返回错误表示传输层故障。
func (m *Manager) streamHeads(ctx context.Context) error {
	m.mu.Lock()
	backend := m.backend
	subTarget := m.subBackend
	m.mu.Unlock()
	if subTarget == nil {
		subTarget = backend
	}

	heads := make(chan *coretypes.Header, 16)
	sub, err := subTarget.SubscribeNewHead(ctx, heads)
	if err != nil {
		// HTTP 端点不支持订阅，降级为固定间隔轮询。
		return m.pollHeads(ctx, backend)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case head := <-heads:
			if head != nil && head.Number != nil {
				m.onHead(head.Number.Uint64())
			}
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			m.log.Warn("区块订阅中断", slog.Any("error", err))
			return err
		}
	}
}

func (m *Manager) pollHeads(ctx context.Context, backend Backend) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		head, err := backend.HeaderByNumber(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Warn("区块轮询失败", slog.Any("error", err))
			return err
		}
		if head != nil && head.Number != nil {
			m.onHead(head.Number.Uint64())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// reconnect 执行有界重连：固定间隔，最多 ReconnectAttempts 次。
// 返回 false 表示放弃（进入 Failed 或上下文取消）。
func (m *Manager) reconnect(ctx context.Context) bool {
	m.setState(StateReconnecting)

	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.cfg.ReconnectDelay):
		}

		backend, subBackend, block, err := m.open(ctx)
		if err != nil {
			m.log.Warn("重连失败",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", m.cfg.ReconnectAttempts),
				slog.Any("error", err),
			)
			if xerrors.CodeOf(err) == xerrors.CodeChainMismatch {
				m.setState(StateFailed)
				return false
			}
			continue
		}

		m.mu.Lock()
		old, oldSub := m.backend, m.subBackend
		m.backend = backend
		m.subBackend = subBackend
		m.lastKnownBlock = block
		m.healthy = true
		m.state = StateHealthy
		m.mu.Unlock()
		closeBackends(old, oldSub)

		m.log.Info("重连成功", slog.Int("attempt", attempt), slog.Uint64("block", block))
		return true
	}

	m.setState(StateFailed)
	m.log.Error("重连次数耗尽", slog.Int("attempts", m.cfg.ReconnectAttempts))
	return false
}

func (m *Manager) onHead(block uint64) {
	m.mu.Lock()
	m.lastKnownBlock = block
	m.healthy = true
	m.state = StateHealthy
	m.mu.Unlock()
}

func (m *Manager) markUnhealthy() {
	m.mu.Lock()
	m.healthy = false
	if m.state != StateFailed {
		m.state = StateUnhealthy
	}
	m.mu.Unlock()
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// State 返回当前连接状态。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Health 返回健康标志与最近一次观测到的区块高度。
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Health{Healthy: m.healthy, LastKnownBlock: m.lastKnownBlock}
}

// Connection 返回可用的后端。健康标志为 false 时拒绝返回连接，
// 调用方不得向降级的连接提交交易。
func (m *Manager) Connection() (Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy || m.backend == nil {
		if m.state == StateFailed {
			return nil, xerrors.New(xerrors.CodeReconnectExhausted, "")
		}
		return nil, xerrors.New(xerrors.CodeUnhealthy, "")
	}
	return m.backend, nil
}

// BalanceAt 查询地址余额（最新区块）。
func (m *Manager) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	backend, err := m.Connection()
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "查询余额失败")
	}
	return balance, nil
}

// Snapshot 采集区块高度、建议手续费与时间戳。
func (m *Manager) Snapshot(ctx context.Context) (ChainSnapshot, error) {
	backend, err := m.Connection()
	if err != nil {
		return ChainSnapshot{}, err
	}
	block, err := backend.BlockNumber(ctx)
	if err != nil {
		return ChainSnapshot{}, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取区块高度失败")
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return ChainSnapshot{}, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取手续费估计失败")
	}
	return ChainSnapshot{BlockNumber: block, GasPrice: gasPrice, Timestamp: time.Now()}, nil
}

// EstimateFee 代理到底层节点的 gas 估算。
func (m *Manager) EstimateFee(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	backend, err := m.Connection()
	if err != nil {
		return 0, err
	}
	gas, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "估算 gas 失败")
	}
	return gas, nil
}

// WaitForConfirmation 阻塞等待交易回执出现并达到指定确认深度。
func (m *Manager) WaitForConfirmation(ctx context.Context, hash common.Hash, confirmations int) (*coretypes.Receipt, error) {
	if confirmations <= 0 {
		confirmations = 1
	}
	backend, err := m.Connection()
	if err != nil {
		return nil, err
	}

	var receipt *coretypes.Receipt
	for receipt == nil {
		receipt, err = backend.TransactionReceipt(ctx, hash)
		if err != nil {
			if !stdErrors.Is(err, gethcore.NotFound) {
				return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "查询交易回执失败")
			}
			receipt = nil
		}
		if receipt != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, ctx.Err(), "等待交易回执被取消")
		case <-time.After(m.receiptPoll):
		}
	}

	target := receipt.BlockNumber.Uint64() + uint64(confirmations) - 1
	for {
		head, err := backend.BlockNumber(ctx)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "查询确认高度失败")
		}
		if head >= target {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, ctx.Err(), "等待确认被取消")
		case <-time.After(m.receiptPoll):
		}
	}
}

// Close 停止监听并释放连接。
func (m *Manager) Close() {
	if m.watchCancel != nil {
		m.watchCancel()
		<-m.watchDone
	}
	m.mu.Lock()
	backend, subBackend := m.backend, m.subBackend
	m.backend = nil
	m.subBackend = nil
	m.healthy = false
	m.state = StateDisconnected
	m.mu.Unlock()
	closeBackends(backend, subBackend)
}

func closeBackends(backends ...Backend) {
	for _, b := range backends {
		if b != nil {
			b.Close()
		}
	}
}
