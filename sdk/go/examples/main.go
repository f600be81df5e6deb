package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenMCP-Pay/sdk/go/openpay"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(openpay.ChatResponse{
				RequestID: "req-demo",
				Reply:     "✅ Sent 5 AMA to demo-recipient. Total cost: 6 AMA.",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/accounts/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openpay.AccountStats{
			Identity:      "demo-user",
			Address:       "demo-address",
			Balance:       94,
			TotalRequests: 1,
			TotalSpent:    6,
			MemberSince:   time.Now().Add(-24 * time.Hour).Unix(),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := openpay.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, openpay.ChatRequest{UserID: "demo-user", Query: "send 5 AMA to demo-recipient"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("reply (%s): %s\n", resp.RequestID, resp.Reply)

	stats, err := client.Stats(ctx, "demo-user")
	if err != nil {
		panic(err)
	}
	fmt.Printf("balance=%.4f requests=%d spent=%.4f\n", stats.Balance, stats.TotalRequests, stats.TotalSpent)
}
