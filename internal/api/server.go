package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/gateway"
	"OpenMCP-Pay/internal/observability/metrics"
	"OpenMCP-Pay/internal/wallet"
	"OpenMCP-Pay/pkg/logger"
)

// Server 负责暴露 REST 接口，供聊天前端驱动网关。
type Server struct {
	addr     string
	gateway  *gateway.Gateway
	accounts *wallet.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, gw *gateway.Gateway, accounts *wallet.Service) *Server {
	return &Server{addr: addr, gateway: gw, accounts: accounts}
}

// Handler 返回完整的路由，便于测试和复用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/v1/chat", instrument("chat", http.HandlerFunc(s.handleChat)))
	mux.Handle("/api/v1/accounts/stats", instrument("account_stats", http.HandlerFunc(s.handleStats)))
	mux.Handle("/api/v1/accounts/transactions", instrument("account_transactions", http.HandlerFunc(s.handleTransactions)))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "openpay",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ChatRequest 是 /api/v1/chat 的请求体。
type ChatRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Query       string `json:"query"`
}

// ChatResponse 是 /api/v1/chat 的响应体。
type ChatResponse struct {
	RequestID string `json:"request_id"`
	Reply     string `json:"reply"`
}

// handleChat 把一条用户消息交给网关处理。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.gateway == nil {
		http.Error(w, "网关未初始化", http.StatusServiceUnavailable)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "缺少 user_id", http.StatusBadRequest)
		return
	}

	requestID := uuid.NewString()
	log := logger.Named("api").With("request_id", requestID, "user_id", req.UserID)
	log.Info("收到聊天请求")

	reply, err := s.gateway.Handle(r.Context(), req.UserID, req.DisplayName, req.Query)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.CodeOf(err) == apperrors.CodeInvalidArgument {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{RequestID: requestID, Reply: reply})
}

// handleStats 返回账户的使用统计。
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	identity := r.URL.Query().Get("user_id")
	if identity == "" {
		http.Error(w, "缺少 user_id", http.StatusBadRequest)
		return
	}

	stats, err := s.accounts.Stats(r.Context(), identity)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleTransactions 返回账户最近的交易记录。
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	identity := r.URL.Query().Get("user_id")
	if identity == "" {
		http.Error(w, "缺少 user_id", http.StatusBadRequest)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.accounts.Transactions(r.Context(), identity, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, wallet.ErrAccountNotFound) {
		http.Error(w, "账户不存在", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// instrument 为处理器补充请求量与耗时指标。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
