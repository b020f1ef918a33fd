package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/reikadev/reika-onchain/internal/decision"
	xerrors "github.com/reikadev/reika-onchain/internal/errors"
	"github.com/reikadev/reika-onchain/internal/executor"
	"github.com/reikadev/reika-onchain/internal/keys"
	"github.com/reikadev/reika-onchain/internal/ledger"
	"github.com/reikadev/reika-onchain/internal/market"
	"github.com/reikadev/reika-onchain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Phase 枚举监督器的生命周期阶段。
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped"
)

// Ledger 约束监督器对连接管理器的依赖。*ledger.Manager 满足该接口。
type Ledger interface {
	executor.Connection
	Snapshot(ctx context.Context) (ledger.ChainSnapshot, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	Health() ledger.Health
}

// Runner 约束监督器对交易执行器的依赖。*executor.Executor 满足该接口。
type Runner interface {
	Execute(ctx context.Context, req *decision.TransactionRequest, signer *keys.Signer, conn executor.Connection) (*executor.Result, error)
}

// KeySource 约束监督器对密钥保管者的依赖。*keys.Custodian 满足该接口。
type KeySource interface {
	Signer(chainID *big.Int) (*keys.Signer, error)
	Address() (common.Address, error)
}

// Config 描述监督器的固定参数。
type Config struct {
	ChainID      *big.Int
	TickInterval time.Duration
}

// Supervisor 驱动固定节拍的主循环：采集数据、请求决策、执行交易、
// 发布生命周期事件。单个节拍内的任何失败都被隔离为一条 error 事件，
// 下一个节拍总会被调度。
type Supervisor struct {
	cfg      Config
	conn     Ledger
	runner   Runner
	keySrc   KeySource
	decider  decision.Provider
	observer market.Provider

	events *emitter
	log    *slog.Logger
	audit  *slog.Logger

	mu      sync.Mutex
	phase   Phase
	state   State
	address common.Address
	runID   string

	stopOnce sync.Once
	stopCh   chan struct{}
	loopDone chan struct{}
}

// Option 定义可选配置。
type Option func(*Supervisor)

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(audit *slog.Logger) Option {
	return func(s *Supervisor) {
		if audit != nil {
			s.audit = audit
		}
	}
}

// New 构造监督器。
func New(cfg Config, conn Ledger, runner Runner, keySrc KeySource, decider decision.Provider, observer market.Provider, opts ...Option) (*Supervisor, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少链 ID")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if conn == nil || runner == nil || keySrc == nil || decider == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "监督器缺少必要组件")
	}

	s := &Supervisor{
		cfg:      cfg,
		conn:     conn,
		runner:   runner,
		keySrc:   keySrc,
		decider:  decider,
		observer: observer,
		events:   newEmitter(0),
		log:      logger.Named("agent"),
		audit:    logger.Audit(),
		phase:    PhaseIdle,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Subscribe 注册事件监听器。投递同步且按节拍内顺序。
func (s *Supervisor) Subscribe(listener Listener) {
	s.events.subscribe(listener)
}

// RecentEvents 返回最近发布的事件副本。
func (s *Supervisor) RecentEvents() []Event {
	return s.events.recentEvents()
}

// Phase 返回当前生命周期阶段。
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// State 返回智能体状态的不可变快照。
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Start 校验连通性、播种初始状态并启动主循环。重复调用返回
// ALREADY_RUNNING，且不会产生第二个循环。
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == PhaseRunning || s.phase == PhaseStarting {
		s.mu.Unlock()
		return xerrors.New(xerrors.CodeAlreadyRunning, "")
	}
	if s.phase == PhaseStopped {
		s.mu.Unlock()
		return xerrors.New(xerrors.CodeAlreadyRunning, "监督器已停止，不能重新启动")
	}
	s.phase = PhaseStarting
	s.mu.Unlock()

	address, err := s.keySrc.Address()
	if err != nil {
		s.setPhase(PhaseIdle)
		return xerrors.Wrap(xerrors.CodeConnectionFailure, err, "签名账户不可用")
	}

	if _, err := s.conn.Snapshot(ctx); err != nil {
		s.setPhase(PhaseIdle)
		return xerrors.Wrap(xerrors.CodeConnectionFailure, err, "连通性校验失败")
	}

	balance, err := s.conn.BalanceAt(ctx, address)
	if err != nil {
		s.setPhase(PhaseIdle)
		return xerrors.Wrap(xerrors.CodeConnectionFailure, err, "读取初始余额失败")
	}

	now := time.Now()
	s.mu.Lock()
	s.address = address
	s.runID = uuid.NewString()
	s.state = State{
		CurrentBalance: new(big.Int).Set(balance),
		Metrics: PerformanceMetrics{
			StartTime:    now,
			InitialValue: new(big.Int).Set(balance),
			CurrentValue: new(big.Int).Set(balance),
		},
	}
	s.phase = PhaseRunning
	s.mu.Unlock()

	s.events.emit(EventStarted, map[string]any{
		"run_id":  s.runID,
		"address": address.Hex(),
		"balance": balance.String(),
	})
	s.log.Info("智能体已启动",
		slog.String("run_id", s.runID),
		slog.String("address", address.Hex()),
		slog.String("balance", balance.String()),
	)

	go s.loop(ctx)
	return nil
}

// Stop 幂等地停止主循环：不再调度新节拍，允许进行中的节拍完成。
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		started := s.phase == PhaseRunning
		s.mu.Unlock()
		if started {
			<-s.loopDone
		}
	})
}

// loop 是唯一的逻辑控制流：一个节拍完整执行后才调度下一个。
func (s *Supervisor) loop(ctx context.Context) {
	defer func() {
		s.setPhase(PhaseStopped)
		s.events.emit(EventStopped, map[string]any{"run_id": s.runID})
		s.log.Info("智能体已停止", slog.String("run_id", s.runID))
		close(s.loopDone)
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// 取消只在节拍之间生效：节拍内的网络调用使用独立上下文，
		// 进行中的确认等待必须被允许自然完成。
		s.tick(context.Background())

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.TickInterval):
		}
	}
}

// tick 执行一次完整迭代。任何错误（包括 panic）都被隔离为一条
// error 事件，绝不终止循环。
func (s *Supervisor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.emitError(fmt.Errorf("节拍 panic: %v", r))
		}
	}()

	// 已知降级的连接直接跳过本节拍，不去触发必然失败的网络调用。
	if health := s.conn.Health(); !health.Healthy {
		s.emitError(xerrors.New(xerrors.CodeUnhealthy, "账本连接不健康，跳过本节拍"))
		return
	}

	balance, err := s.conn.BalanceAt(ctx, s.address)
	if err != nil {
		s.emitError(err)
		return
	}

	now := time.Now()
	s.mu.Lock()
	s.state.CurrentBalance = new(big.Int).Set(balance)
	s.state.Metrics.CurrentValue = new(big.Int).Set(balance)
	s.state.Metrics.ROIBasisPoints = computeROI(s.state.Metrics.InitialValue, balance)
	s.state.LastAnalysisAt = now
	view := decision.StateView{
		Address:          s.address.Hex(),
		Balance:          balance.String(),
		ROIBasisPoints:   s.state.Metrics.ROIBasisPoints,
		ActiveStrategies: append([]string(nil), s.state.ActiveStrategies...),
		LastAnalysisAt:   now.UnixMilli(),
	}
	s.mu.Unlock()

	snapshot := s.observeMarket(ctx)

	dec, err := s.decider.Propose(ctx, view, snapshot)
	if err != nil {
		// 提供方故障不终止节拍：上报一次 error 事件并合成 NONE 决策。
		s.emitError(xerrors.Wrap(xerrors.CodeProviderFailure, err, "决策提供方调用失败"))
		dec = decision.None(fmt.Sprintf("决策提供方调用失败: %v", err))
	}
	if dec == nil || !dec.Action.Valid() {
		s.emitError(xerrors.New(xerrors.CodeProviderFailure, "决策内容不合法"))
		dec = decision.None("决策内容不合法，本节拍不行动")
	}

	s.events.emit(EventDecision, map[string]any{
		"action":    string(dec.Action),
		"reasoning": dec.Reasoning,
		"expected":  dec.ExpectedOutcome,
		"risk":      dec.RiskAssessment,
	})

	s.executeDecision(ctx, dec)
}

func (s *Supervisor) observeMarket(ctx context.Context) market.Snapshot {
	if s.observer == nil {
		return market.Snapshot{ObservedAt: time.Now()}
	}
	snapshot, err := s.observer.Snapshot(ctx)
	if err != nil {
		s.log.Warn("市场观测失败", slog.Any("error", err))
		return market.Snapshot{ObservedAt: time.Now()}
	}
	return snapshot
}

// executeDecision 将需要交易的决策交给执行器。NONE 或缺少转账请求
// 时不做任何事，也不产生网络调用。执行器层面的错误在这里被吸收，
// 绝不传出主循环。
func (s *Supervisor) executeDecision(ctx context.Context, dec *decision.Decision) {
	if !dec.RequiresTransaction() {
		return
	}

	s.events.emit(EventExecuting, map[string]any{
		"action": string(dec.Action),
		"to":     dec.Transaction.To,
		"value":  dec.Transaction.Value,
	})

	signer, err := s.keySrc.Signer(s.cfg.ChainID)
	if err != nil {
		s.events.emit(EventExecutionFailed, map[string]any{
			"action": string(dec.Action),
			"error":  err.Error(),
		})
		s.emitError(err)
		return
	}
	defer signer.Destroy()

	result, err := s.runner.Execute(ctx, dec.Transaction, signer, s.conn)
	if err != nil {
		s.events.emit(EventExecutionFailed, map[string]any{
			"action": string(dec.Action),
			"error":  err.Error(),
		})
		s.emitError(err)
		return
	}

	if !result.Success {
		s.events.emit(EventExecutionFailed, map[string]any{
			"action": string(dec.Action),
			"hash":   result.Hash,
			"error":  result.Err,
		})
		s.audit.Warn("交易执行失败",
			slog.String("run_id", s.runID),
			slog.String("action", string(dec.Action)),
			slog.String("hash", result.Hash),
			slog.String("error", result.Err),
		)
		return
	}

	s.recordStrategy(dec.Action, result.Hash)

	s.events.emit(EventExecuted, map[string]any{
		"action":          string(dec.Action),
		"hash":            result.Hash,
		"confirmed_block": result.ConfirmedBlock,
		"gas_used":        result.GasUsed,
	})
	s.audit.Info("交易执行成功",
		slog.String("run_id", s.runID),
		slog.String("action", string(dec.Action)),
		slog.String("hash", result.Hash),
		slog.Uint64("block", result.ConfirmedBlock),
	)
}

// recordStrategy 仅在交易成功后更新持仓标签。
func (s *Supervisor) recordStrategy(action decision.Action, hash string) {
	var tag string
	switch action {
	case decision.ActionProvideLiquidity:
		tag = "liquidity-" + hash
	case decision.ActionStake:
		tag = "stake-" + hash
	default:
		return
	}
	s.mu.Lock()
	s.state.ActiveStrategies = append(s.state.ActiveStrategies, tag)
	s.mu.Unlock()
}

func (s *Supervisor) emitError(err error) {
	s.events.emit(EventError, map[string]any{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
	s.log.Error("节拍内发生错误", slog.Any("error", err), slog.String("run_id", s.runID))
}

func (s *Supervisor) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}
