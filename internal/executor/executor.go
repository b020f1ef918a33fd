package executor

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/reikadev/reika-onchain/internal/decision"
	xerrors "github.com/reikadev/reika-onchain/internal/errors"
	"github.com/reikadev/reika-onchain/internal/keys"
	"github.com/reikadev/reika-onchain/internal/ledger"
	"github.com/reikadev/reika-onchain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// Connection 约束执行器对连接管理器的依赖，便于在测试中替换。
// *ledger.Manager 满足该接口。
type Connection interface {
	Connection() (ledger.Backend, error)
	EstimateFee(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	WaitForConfirmation(ctx context.Context, hash common.Hash, confirmations int) (*coretypes.Receipt, error)
}

// Executor 将抽象的转账请求转化为已签名、已确认的链上交易。
// 它不持有长期状态，历史记录由外部注入并共享给状态接口。
type Executor struct {
	history       *History
	confirmations int
	log           *slog.Logger
}

// Option 定义可选配置。
type Option func(*Executor)

// WithConfirmations 设置等待的确认深度。
func WithConfirmations(depth int) Option {
	return func(e *Executor) {
		if depth > 0 {
			e.confirmations = depth
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// New 构造执行器。
func New(history *History, opts ...Option) *Executor {
	e := &Executor{
		history:       history,
		confirmations: 1,
		log:           logger.Named("executor"),
	}
	if e.history == nil {
		e.history = NewHistory(0)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// History 返回共享的交易历史。
func (e *Executor) History() *History {
	return e.history
}

// Execute 构造、补齐手续费、签名并广播一笔交易，随后阻塞等待确认。
// 链上回滚（回执状态 0）不是错误：返回 Success=false 的结果。
// 签名或广播阶段的异常会被记入历史并以 SUBMISSION_FAILURE 上抛。
func (e *Executor) Execute(ctx context.Context, req *decision.TransactionRequest, signer *keys.Signer, conn Connection) (*Result, error) {
	if req == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账请求为空")
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少签名能力")
	}

	// 前置条件：不得向降级的连接提交交易。
	backend, err := conn.Connection()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePreconditionFailure, err, "连接不可用，拒绝执行")
	}

	to, value, payload, err := normalize(req)
	if err != nil {
		return nil, err
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = conn.EstimateFee(ctx, gethcore.CallMsg{
			From:  signer.Address(),
			To:    &to,
			Value: value,
			Data:  payload,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeEstimationFailure, err, "节点拒绝了 gas 估算")
		}
	}

	gasPrice, err := parseBig(req.GasPrice)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "gas 价格不合法")
	}
	if gasPrice == nil {
		gasPrice, err = backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "获取建议手续费失败")
		}
	}

	nonce, err := backend.PendingNonceAt(ctx, signer.Address())
	if err != nil {
		return e.submissionFailure("", err, "查询 nonce 失败")
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     payload,
	})

	signed, err := signer.SignTx(tx)
	if err != nil {
		return e.submissionFailure("", err, "交易签名失败")
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return e.submissionFailure("", err, "交易广播失败")
	}

	hash := signed.Hash()
	receipt, err := conn.WaitForConfirmation(ctx, hash, e.confirmations)
	if err != nil {
		return e.submissionFailure(hash.Hex(), err, "等待交易确认失败")
	}

	result := Result{
		Hash:           hash.Hex(),
		Success:        receipt.Status == coretypes.ReceiptStatusSuccessful,
		ConfirmedBlock: receipt.BlockNumber.Uint64(),
		GasUsed:        receipt.GasUsed,
	}
	if !result.Success {
		result.Err = "交易在链上回滚"
	}
	e.history.Append(result)

	e.log.Info("交易完成",
		slog.String("hash", result.Hash),
		slog.Bool("success", result.Success),
		slog.Uint64("block", result.ConfirmedBlock),
		slog.Uint64("gas_used", result.GasUsed),
	)
	return &result, nil
}

// submissionFailure 将签名/广播阶段的异常转成失败记录并上抛。
func (e *Executor) submissionFailure(hash string, cause error, message string) (*Result, error) {
	result := Result{Hash: hash, Success: false, Err: cause.Error()}
	e.history.Append(result)
	return nil, xerrors.Wrap(xerrors.CodeSubmissionFailure, cause, message)
}

// normalize 将请求的外部表示转换为账本原生单位。
func normalize(req *decision.TransactionRequest) (common.Address, *big.Int, []byte, error) {
	if !common.IsHexAddress(req.To) {
		return common.Address{}, nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "目标地址不合法: "+req.To)
	}
	to := common.HexToAddress(req.To)

	value, err := parseBig(req.Value)
	if err != nil {
		return common.Address{}, nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "转账金额不合法")
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return common.Address{}, nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "转账金额不能为负")
	}

	var payload []byte
	if data := strings.TrimSpace(req.Payload); data != "" {
		payload, err = hexutil.Decode(data)
		if err != nil {
			return common.Address{}, nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "调用数据不合法")
		}
	}
	return to, value, payload, nil
}

// parseBig 解析十进制或 0x 前缀十六进制的整数，空串返回 nil。
func parseBig(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return hexutil.DecodeBig(raw)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "无法解析整数: "+raw)
	}
	return n, nil
}
