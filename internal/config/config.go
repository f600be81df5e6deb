package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了支付网关在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	LLM      LLMConfig      `json:"llm"`
	MCP      MCPConfig      `json:"mcp"`
	Payment  PaymentConfig  `json:"payment"`
	Chain    ChainConfig    `json:"chain"`
	Secrets  SecretsConfig  `json:"secrets"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述账户存储后端的连接信息。
type StorageConfig struct {
	AccountStore AccountStoreConfig `json:"account_store"`
}

// AccountStoreConfig 支持 memory、mysql、redis 三种驱动。
type AccountStoreConfig struct {
	Driver        string `json:"driver"`
	DSN           string `json:"dsn"`
	RedisAddress  string `json:"redis_address"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	KeyPrefix     string `json:"key_prefix"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Anthropic AnthropicConfig `json:"anthropic"`
}

// AnthropicConfig 描述调用 Anthropic Messages API 所需的信息。
type AnthropicConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MCPConfig 包含访问远端 MCP 服务所需的地址与凭证。
type MCPConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// PaymentConfig 定义每次请求收取的服务费以及收款账户。
type PaymentConfig struct {
	ServiceFee   float64 `json:"service_fee"`
	SystemWallet string  `json:"system_wallet"`
	Network      string  `json:"network"`
}

// ChainConfig 指向网络定义文件以及链上查询的超时参数。
type ChainConfig struct {
	NetworksFile   string `json:"networks_file"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SecretsConfig 持有加密用户私钥所用的主密钥。
type SecretsConfig struct {
	MasterKey string `json:"master_key"`
}

// AlertingConfig 控制告警通知通道。
type AlertingConfig struct {
	Enabled  bool   `json:"enabled"`
	AMQPURL  string `json:"amqp_url"`
	Exchange string `json:"exchange"`
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
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.AccountStore.Driver == "" {
		c.Storage.AccountStore.Driver = "memory"
	}
	if c.Storage.AccountStore.KeyPrefix == "" {
		c.Storage.AccountStore.KeyPrefix = "openpay"
	}

	if c.LLM.Anthropic.MaxTokens == 0 {
		c.LLM.Anthropic.MaxTokens = 2048
	}
	if c.LLM.Anthropic.TimeoutSeconds == 0 {
		c.LLM.Anthropic.TimeoutSeconds = 120
	}

	if c.MCP.TimeoutSeconds == 0 {
		c.MCP.TimeoutSeconds = 30
	}

	if c.Payment.ServiceFee == 0 {
		c.Payment.ServiceFee = 1
	}
	if c.Payment.Network == "" {
		c.Payment.Network = "testnet"
	}

	if c.Chain.NetworksFile == "" {
		c.Chain.NetworksFile = filepath.Join(baseDir, "networks.yaml")
	} else if !filepath.IsAbs(c.Chain.NetworksFile) {
		c.Chain.NetworksFile = filepath.Join(baseDir, c.Chain.NetworksFile)
	}
	if c.Chain.TimeoutSeconds == 0 {
		c.Chain.TimeoutSeconds = 10
	}
}

// applyEnvOverrides 允许通过环境变量注入敏感字段，避免把密钥写进配置文件。
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENPAY_ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENPAY_MCP_API_KEY"); key != "" {
		c.MCP.APIKey = key
	}
	if key := os.Getenv("OPENPAY_MASTER_KEY"); key != "" {
		c.Secrets.MasterKey = key
	}
}

// validate 检查缺失后果严重的字段，尽早在启动阶段失败。
func (c *Config) validate() error {
	if c.LLM.Anthropic.APIKey == "" {
		return errors.New("缺少 llm.anthropic.api_key")
	}
	if c.MCP.BaseURL == "" {
		return errors.New("缺少 mcp.base_url")
	}
	if c.Payment.SystemWallet == "" {
		return errors.New("缺少 payment.system_wallet")
	}
	if c.Secrets.MasterKey == "" {
		return errors.New("缺少 secrets.master_key")
	}
	if c.Payment.ServiceFee < 0 {
		return errors.New("payment.service_fee 不能为负数")
	}
	return nil
}

// AnthropicTimeout 返回 LLM 请求的超时时间。
func (c *Config) AnthropicTimeout() time.Duration {
	return time.Duration(c.LLM.Anthropic.TimeoutSeconds) * time.Second
}

// MCPTimeout 返回 MCP 请求的超时时间。
func (c *Config) MCPTimeout() time.Duration {
	return time.Duration(c.MCP.TimeoutSeconds) * time.Second
}

// ChainTimeout 返回链上余额查询的超时时间。
func (c *Config) ChainTimeout() time.Duration {
	return time.Duration(c.Chain.TimeoutSeconds) * time.Second
}
