package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OpenMCP-Pay/internal/agent"
	"OpenMCP-Pay/internal/api"
	"OpenMCP-Pay/internal/chain"
	"OpenMCP-Pay/internal/config"
	"OpenMCP-Pay/internal/gateway"
	"OpenMCP-Pay/internal/llm/anthropic"
	"OpenMCP-Pay/internal/mcp"
	"OpenMCP-Pay/internal/observability/alerting"
	"OpenMCP-Pay/internal/secrets"
	"OpenMCP-Pay/internal/tools"
	"OpenMCP-Pay/internal/wallet"
	"OpenMCP-Pay/pkg/logger"
)

// main 是支付网关守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("openpayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OPENPAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "openpay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{Level: "info", Format: "json"}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 主密钥自检失败时拒绝启动，避免写入无法解密的私钥。
	cipher, err := secrets.NewCipher(cfg.Secrets.MasterKey)
	if err != nil {
		return err
	}
	if err := cipher.SelfTest(); err != nil {
		return err
	}

	store, err := openAccountStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	networks, err := chain.LoadNetworkDefinitions(cfg.Chain.NetworksFile)
	if err != nil {
		return err
	}
	network, ok := networks.Networks[cfg.Payment.Network]
	if !ok {
		return fmt.Errorf("未定义的网络: %s", cfg.Payment.Network)
	}

	oracle, err := chain.NewOracle(network.RPCURL, cfg.ChainTimeout())
	if err != nil {
		return err
	}

	mcpClient, err := mcp.NewClient(mcp.Config{
		BaseURL: cfg.MCP.BaseURL,
		APIKey:  cfg.MCP.APIKey,
		Timeout: cfg.MCPTimeout(),
	})
	if err != nil {
		return err
	}

	signer, err := chain.NewSigner(cipher)
	if err != nil {
		return err
	}
	txService, err := chain.NewService(mcpClient, signer, oracle, chain.Config{
		Network:      cfg.Payment.Network,
		SystemWallet: cfg.Payment.SystemWallet,
		ServiceFee:   cfg.Payment.ServiceFee,
	})
	if err != nil {
		return err
	}

	if cfg.Alerting.Enabled {
		notifiers := []alerting.Notifier{alerting.LogNotifier{}}
		if cfg.Alerting.AMQPURL != "" {
			amqpNotifier, err := alerting.NewAMQPNotifier(cfg.Alerting.AMQPURL, cfg.Alerting.Exchange)
			if err != nil {
				return err
			}
			defer func() {
				_ = amqpNotifier.Close()
			}()
			notifiers = append(notifiers, amqpNotifier)
		}
		txService.SetAlerts(alerting.NewFanout(notifiers...))
	}

	accounts, err := wallet.NewService(store, cipher, oracle)
	if err != nil {
		return err
	}

	registry, err := tools.NewRegistry(mcpClient, tools.NewLocalTools(accounts, txService))
	if err != nil {
		return err
	}
	if err := registry.RefreshRemote(ctx); err != nil {
		logger.L().Warn("拉取远端工具清单失败，仅注册本地工具", "error", err)
	}

	llmClient, err := anthropic.NewClient(anthropic.Config{
		APIKey:    cfg.LLM.Anthropic.APIKey,
		BaseURL:   cfg.LLM.Anthropic.BaseURL,
		Model:     cfg.LLM.Anthropic.Model,
		MaxTokens: cfg.LLM.Anthropic.MaxTokens,
		Timeout:   cfg.AnthropicTimeout(),
	})
	if err != nil {
		return err
	}

	ag := agent.New(llmClient, registry)

	gw, err := gateway.New(accounts, txService, ag)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, gw, accounts)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openAccountStore 根据配置选择账户存储后端。
func openAccountStore(cfg *config.Config) (wallet.Store, error) {
	storeCfg := cfg.Storage.AccountStore
	switch storeCfg.Driver {
	case "", "memory":
		return wallet.NewMemoryStore(), nil
	case "mysql":
		return wallet.NewSQLStore(storeCfg.DSN)
	case "redis":
		return wallet.NewRedisStore(wallet.RedisStoreConfig{
			Address:   storeCfg.RedisAddress,
			Password:  storeCfg.RedisPassword,
			DB:        storeCfg.RedisDB,
			KeyPrefix: storeCfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("未知的账户存储驱动: %s", storeCfg.Driver)
	}
}
