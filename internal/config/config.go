package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 reikad 在启动阶段需要加载的核心配置。
type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Ledger   LedgerConfig   `json:"ledger"`
	Security SecurityConfig `json:"security"`
	Decision DecisionConfig `json:"decision"`
	API      APIConfig      `json:"api"`
	Logging  LoggingConfig  `json:"logging"`
}

// AgentConfig 控制主循环节奏与交易历史容量。
type AgentConfig struct {
	TickIntervalSeconds int `json:"tick_interval_seconds"`
	HistoryLimit        int `json:"history_limit"`
	Confirmations       int `json:"confirmations"`
}

// TickInterval 返回主循环的固定节拍。
func (c AgentConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// LedgerConfig 包含访问账本节点所需的连接参数。
type LedgerConfig struct {
	RPCURL              string `json:"rpc_url"`
	WSURL               string `json:"ws_url"`
	ChainID             int64  `json:"chain_id"`
	Chain               string `json:"chain"`
	ChainsFile          string `json:"chains_file"`
	ReconnectAttempts   int    `json:"reconnect_attempts"`
	ReconnectDelayMS    int    `json:"reconnect_delay_ms"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
}

// ReconnectDelay 返回两次重连之间的固定等待时间。
func (c LedgerConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// PollInterval 返回 HTTP 端点降级轮询的间隔。
func (c LedgerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SecurityConfig 指定敏感材料的来源。密钥永远不写入配置文件本身，
// 只通过环境变量名引用。
type SecurityConfig struct {
	MasterSecretEnv string `json:"master_secret_env"`
	SigningKeyEnv   string `json:"signing_key_env"`
}

// DecisionConfig 用于配置决策提供方的调用方式。
type DecisionConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述通过 OpenAI 兼容接口获取决策时所需的信息。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回调用决策提供方的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIConfig 控制只读状态接口的监听地址。地址为空时不启动。
type APIConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 控制结构化日志与审计日志输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Secrets 保存从环境变量解析出的敏感材料。
type Secrets struct {
	MasterSecret string
	SigningKey   string
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.TickIntervalSeconds <= 0 {
		c.Agent.TickIntervalSeconds = 60
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 256
	}
	if c.Agent.Confirmations <= 0 {
		c.Agent.Confirmations = 1
	}

	if c.Ledger.ReconnectAttempts <= 0 {
		c.Ledger.ReconnectAttempts = 3
	}
	if c.Ledger.ReconnectDelayMS <= 0 {
		c.Ledger.ReconnectDelayMS = 1000
	}
	if c.Ledger.PollIntervalSeconds <= 0 {
		c.Ledger.PollIntervalSeconds = 12
	}
	if c.Ledger.ChainsFile != "" && !filepath.IsAbs(c.Ledger.ChainsFile) {
		c.Ledger.ChainsFile = filepath.Join(baseDir, c.Ledger.ChainsFile)
	}

	if c.Security.MasterSecretEnv == "" {
		c.Security.MasterSecretEnv = "REIKA_MASTER_SECRET"
	}
	if c.Security.SigningKeyEnv == "" {
		c.Security.SigningKeyEnv = "REIKA_SIGNING_KEY"
	}

	if c.Decision.Provider == "" {
		c.Decision.Provider = "openai"
	}
	if c.Decision.OpenAI.TimeoutSeconds <= 0 {
		c.Decision.OpenAI.TimeoutSeconds = 60
	}
}

// Validate 检查启动必需的配置项。任何缺失都是致命的启动错误。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Ledger.RPCURL) == "" && strings.TrimSpace(c.Ledger.Chain) == "" {
		return errors.New("必须配置 ledger.rpc_url 或 ledger.chain")
	}
	if strings.TrimSpace(c.Ledger.Chain) == "" && c.Ledger.ChainID <= 0 {
		return errors.New("必须配置 ledger.chain_id")
	}
	return nil
}

// ResolveSecrets 从环境变量读取签名私钥与主加密密钥。
// 任何一项缺失都视为致命的启动错误，而不是运行期问题。
func (c *Config) ResolveSecrets() (*Secrets, error) {
	master := strings.TrimSpace(os.Getenv(c.Security.MasterSecretEnv))
	if master == "" {
		return nil, fmt.Errorf("环境变量 %s 未设置主加密密钥", c.Security.MasterSecretEnv)
	}
	signing := strings.TrimSpace(os.Getenv(c.Security.SigningKeyEnv))
	if signing == "" {
		return nil, fmt.Errorf("环境变量 %s 未设置签名私钥", c.Security.SigningKeyEnv)
	}
	return &Secrets{MasterSecret: master, SigningKey: signing}, nil
}
