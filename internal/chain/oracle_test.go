package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOracleBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("address") != "addr1" {
			t.Fatalf("address not forwarded: %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balance": map[string]any{"flat": 42_500_000_000},
		})
	}))
	defer srv.Close()

	oracle, err := NewOracle(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := oracle.Balance(context.Background(), "addr1"); got != 42.5 {
		t.Fatalf("unexpected balance: %f", got)
	}
	if got := oracle.BalanceString(context.Background(), "addr1"); got != "42.5000" {
		t.Fatalf("unexpected formatted balance: %q", got)
	}
}

func TestOracleNeverFailsOutward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	srv.Close()

	oracle, err := NewOracle(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := oracle.BalanceString(context.Background(), "addr1"); got != ZeroBalance {
		t.Fatalf("expected zero sentinel, got %q", got)
	}
}

func TestNewOracleValidation(t *testing.T) {
	if _, err := NewOracle("  ", time.Second); err == nil {
		t.Fatalf("expected error for empty rpc url")
	}
}
