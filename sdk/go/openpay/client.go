package openpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the payment gateway REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ChatRequest is the payload for a chat invocation.
type ChatRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Query       string `json:"query"`
}

// ChatResponse carries the gateway's reply for a chat invocation.
type ChatResponse struct {
	RequestID string `json:"request_id"`
	Reply     string `json:"reply"`
}

// AccountStats is the usage summary of a custodial account.
type AccountStats struct {
	Identity      string  `json:"identity"`
	Address       string  `json:"address"`
	Balance       float64 `json:"balance"`
	TotalRequests int64   `json:"total_requests"`
	TotalSpent    float64 `json:"total_spent"`
	MemberSince   int64   `json:"member_since"`
}

// TransactionRecord is a single entry of an account's transaction log.
type TransactionRecord struct {
	Kind        string  `json:"kind"`
	Amount      float64 `json:"amount"`
	TxHash      string  `json:"tx_hash,omitempty"`
	Description string  `json:"description,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("openpay api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the payment gateway API. When httpClient
// is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Chat submits a user message and returns the gateway's reply.
func (c *Client) Chat(ctx context.Context, request ChatRequest) (ChatResponse, error) {
	var response ChatResponse
	if err := c.post(ctx, "/api/v1/chat", request, &response); err != nil {
		return ChatResponse{}, err
	}
	return response, nil
}

// Stats fetches the usage statistics for a user's custodial account.
func (c *Client) Stats(ctx context.Context, userID string) (AccountStats, error) {
	var stats AccountStats
	endpoint := "/api/v1/accounts/stats?user_id=" + url.QueryEscape(userID)
	if err := c.get(ctx, endpoint, &stats); err != nil {
		return AccountStats{}, err
	}
	return stats, nil
}

// Transactions fetches the most recent transaction records for a user.
func (c *Client) Transactions(ctx context.Context, userID string, limit int) ([]TransactionRecord, error) {
	endpoint := "/api/v1/accounts/transactions?user_id=" + url.QueryEscape(userID)
	if limit > 0 {
		endpoint += "&limit=" + strconv.Itoa(limit)
	}
	var records []TransactionRecord
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Health reports whether the gateway is reachable and serving.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
		}
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
