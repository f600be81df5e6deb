// Package api exposes the REST surface of the payment gateway: a chat
// endpoint that drives the agent loop, account statistics and transaction
// history lookups, plus health and metrics endpoints.
package api
