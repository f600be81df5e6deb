package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"OpenMCP-Pay/pkg/logger"
)

// ZeroBalance 是余额查询失败时返回的哨兵值。
const ZeroBalance = "0.0000"

// Oracle 从链上 RPC 节点查询地址余额。
// 查询失败不向外抛错，统一返回零余额，由支付前置检查自然拒绝。
type Oracle struct {
	rpcURL     string
	httpClient *http.Client
}

// NewOracle 根据网络定义创建余额查询组件。
func NewOracle(rpcURL string, timeout time.Duration) (*Oracle, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("未提供 RPC 节点地址")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Oracle{
		rpcURL: strings.TrimRight(rpcURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Balance 返回地址的 AMA 余额。任何失败都返回 0。
func (o *Oracle) Balance(ctx context.Context, address string) float64 {
	endpoint := fmt.Sprintf("%s/wallet/balance?address=%s&token=AMA", o.rpcURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Named("oracle").Warn("构建余额查询请求失败", "address", address, "error", err)
		return 0
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		logger.Named("oracle").Warn("余额查询失败", "address", address, "error", err)
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Named("oracle").Warn("余额查询返回异常状态", "address", address, "status", resp.StatusCode)
		return 0
	}

	var decoded struct {
		Balance struct {
			Flat uint64 `json:"flat"`
		} `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		logger.Named("oracle").Warn("解析余额响应失败", "address", address, "error", err)
		return 0
	}
	return FromAtomic(decoded.Balance.Flat)
}

// BalanceString 返回固定四位小数的余额字符串，失败时为 "0.0000"。
func (o *Oracle) BalanceString(ctx context.Context, address string) string {
	return FormatAMA(o.Balance(ctx, address))
}
