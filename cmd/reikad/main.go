package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/reikadev/reika-onchain/internal/agent"
	"github.com/reikadev/reika-onchain/internal/api"
	"github.com/reikadev/reika-onchain/internal/config"
	"github.com/reikadev/reika-onchain/internal/decision"
	"github.com/reikadev/reika-onchain/internal/decision/openai"
	"github.com/reikadev/reika-onchain/internal/executor"
	"github.com/reikadev/reika-onchain/internal/keys"
	"github.com/reikadev/reika-onchain/internal/ledger"
	"github.com/reikadev/reika-onchain/internal/market"
	"github.com/reikadev/reika-onchain/internal/observability/eventlog"
	"github.com/reikadev/reika-onchain/pkg/logger"
)

// main 是 reikad 守护进程的入口。收到终止信号后优雅停机：
// 干净退出返回 0，启动失败返回非零。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("reikad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("REIKA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "reika.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 敏感材料只来自环境变量，缺失即视为致命的启动错误。
	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		return err
	}

	custodian, err := keys.New(secrets.MasterSecret)
	if err != nil {
		return err
	}
	if err := custodian.Store(secrets.SigningKey); err != nil {
		return err
	}
	defer custodian.Clear()

	rpcURL, wsURL, chainID, err := resolveEndpoint(cfg)
	if err != nil {
		return err
	}

	conn, err := ledger.NewManager(ledger.Config{
		RPCURL:            rpcURL,
		WSURL:             wsURL,
		ChainID:           chainID,
		ReconnectAttempts: cfg.Ledger.ReconnectAttempts,
		ReconnectDelay:    cfg.Ledger.ReconnectDelay(),
		PollInterval:      cfg.Ledger.PollInterval(),
	})
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

	history := executor.NewHistory(cfg.Agent.HistoryLimit)
	exec := executor.New(history, executor.WithConfirmations(cfg.Agent.Confirmations))

	provider, err := createDecisionProvider(cfg)
	if err != nil {
		return err
	}

	supervisor, err := agent.New(
		agent.Config{ChainID: chainID, TickInterval: cfg.Agent.TickInterval()},
		conn,
		exec,
		custodian,
		provider,
		market.NewChainProvider(conn),
	)
	if err != nil {
		return err
	}
	supervisor.Subscribe(eventlog.New().Listen())

	if err := supervisor.Start(ctx); err != nil {
		return err
	}
	// 终止信号到达后立即停止调度，允许进行中的节拍完成。
	go func() {
		<-ctx.Done()
		supervisor.Stop()
	}()
	defer supervisor.Stop()

	if strings.TrimSpace(cfg.API.Address) != "" {
		server := api.NewServer(cfg.API.Address, supervisor, history, conn)
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// resolveEndpoint 根据主配置或命名链定义得出最终的端点与链 ID。
func resolveEndpoint(cfg *config.Config) (string, string, *big.Int, error) {
	if strings.TrimSpace(cfg.Ledger.Chain) != "" {
		defs, err := ledger.LoadChainDefinitions(cfg.Ledger.ChainsFile)
		if err != nil {
			return "", "", nil, err
		}
		def, err := defs.Resolve(cfg.Ledger.Chain)
		if err != nil {
			return "", "", nil, err
		}
		if def.ChainID <= 0 {
			return "", "", nil, fmt.Errorf("链 %s 缺少 chain_id", cfg.Ledger.Chain)
		}
		return def.RPCURL, def.WSURL, big.NewInt(def.ChainID), nil
	}
	return cfg.Ledger.RPCURL, cfg.Ledger.WSURL, big.NewInt(cfg.Ledger.ChainID), nil
}

func createDecisionProvider(cfg *config.Config) (decision.Provider, error) {
	switch cfg.Decision.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.Decision.OpenAI.APIKey)
		if apiKey == "" && cfg.Decision.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.Decision.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("openai provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.Decision.OpenAI.BaseURL,
			Model:   cfg.Decision.OpenAI.Model,
			Timeout: cfg.Decision.OpenAI.Timeout(),
		})
	case "static":
		return decision.Static{}, nil
	default:
		return nil, fmt.Errorf("未知的决策 provider: %s", cfg.Decision.Provider)
	}
}
