package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"anthropic": {"api_key": "sk-test"}},
		"mcp": {"base_url": "https://mcp.example.com"},
		"payment": {"system_wallet": "sys-wallet"},
		"secrets": {"master_key": "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址错误: %s", cfg.Server.Address)
	}
	if cfg.Storage.AccountStore.Driver != "memory" {
		t.Fatalf("默认存储驱动错误: %s", cfg.Storage.AccountStore.Driver)
	}
	if cfg.Payment.ServiceFee != 1 {
		t.Fatalf("默认服务费错误: %v", cfg.Payment.ServiceFee)
	}
	if cfg.Payment.Network != "testnet" {
		t.Fatalf("默认网络错误: %s", cfg.Payment.Network)
	}
	if cfg.LLM.Anthropic.MaxTokens != 2048 {
		t.Fatalf("默认 max_tokens 错误: %d", cfg.LLM.Anthropic.MaxTokens)
	}
	if !filepath.IsAbs(cfg.Chain.NetworksFile) {
		t.Fatalf("networks_file 未被解析为绝对路径: %s", cfg.Chain.NetworksFile)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"缺少 api_key": `{
			"mcp": {"base_url": "https://mcp.example.com"},
			"payment": {"system_wallet": "sys"},
			"secrets": {"master_key": "ab"}
		}`,
		"缺少 system_wallet": `{
			"llm": {"anthropic": {"api_key": "sk"}},
			"mcp": {"base_url": "https://mcp.example.com"},
			"secrets": {"master_key": "ab"}
		}`,
		"缺少 master_key": `{
			"llm": {"anthropic": {"api_key": "sk"}},
			"mcp": {"base_url": "https://mcp.example.com"},
			"payment": {"system_wallet": "sys"}
		}`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s 时应当返回错误", name)
		}
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("OPENPAY_ANTHROPIC_API_KEY", "sk-from-env")
	t.Setenv("OPENPAY_MASTER_KEY", "deadbeef")

	path := writeConfig(t, `{
		"llm": {"anthropic": {"api_key": "sk-file"}},
		"mcp": {"base_url": "https://mcp.example.com"},
		"payment": {"system_wallet": "sys-wallet"},
		"secrets": {"master_key": "from-file"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.LLM.Anthropic.APIKey != "sk-from-env" {
		t.Fatalf("环境变量未覆盖 api_key: %s", cfg.LLM.Anthropic.APIKey)
	}
	if cfg.Secrets.MasterKey != "deadbeef" {
		t.Fatalf("环境变量未覆盖 master_key: %s", cfg.Secrets.MasterKey)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("空路径应当返回错误")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("不存在的文件应当返回错误")
	}
}
