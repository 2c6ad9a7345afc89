// Package blockchain provides a minimal JSON-RPC client against an
// Ethereum-style node, used by the blockchain-operation tools the
// completion loop dispatches (send_transaction_to_wallet, get_balance,
// read_contract) and by the gas_price System Worker handler.
//
// Grounded on the teacher's LLM provider clients
// (internal/infrastructure/llm/anthropic/provider.go,
// internal/infrastructure/llm/openai/provider.go), which reach for a plain
// *http.Client + encoding/json rather than a client library — none of the
// examples in the pack vendor an Ethereum SDK, so this follows the same
// "stdlib JSON-RPC over net/http" shape rather than introducing an
// unattested dependency.
package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client is a thin JSON-RPC 2.0 client for a single chain endpoint.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient returns a Client targeting rpcURL (e.g. an Infura/Alchemy-style
// HTTPS endpoint). A zero rpcURL is valid — calls return an error rather
// than panicking, so the tools built on top of it can be registered even
// when no chain endpoint is configured.
func NewClient(rpcURL string, logger *zap.Logger) *Client {
	return &Client{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call issues one JSON-RPC method call and unmarshals the raw result.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.rpcURL == "" {
		return nil, fmt.Errorf("blockchain: no RPC endpoint configured")
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("blockchain: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("blockchain: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blockchain: rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("blockchain: decode rpc %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("blockchain: rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	return rpcResp.Result, nil
}

// GasPrice returns the node's current gas price as a hex-quantity string
// (e.g. "0x4a817c800").
func (c *Client) GasPrice(ctx context.Context) (string, error) {
	raw, err := c.call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return "", err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return "", fmt.Errorf("blockchain: parse gas price: %w", err)
	}
	return hex, nil
}

// GetBalance returns address's balance (wei, hex-quantity) at the given
// block tag ("latest" if empty).
func (c *Client) GetBalance(ctx context.Context, address, blockTag string) (string, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	raw, err := c.call(ctx, "eth_getBalance", []interface{}{address, blockTag})
	if err != nil {
		return "", err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return "", fmt.Errorf("blockchain: parse balance: %w", err)
	}
	return hex, nil
}

// Call executes a read-only contract call (eth_call) against `to` with the
// given ABI-encoded `data`, at the given block tag ("latest" if empty).
func (c *Client) Call(ctx context.Context, to, data, blockTag string) (string, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	raw, err := c.call(ctx, "eth_call", []interface{}{
		map[string]string{"to": to, "data": data},
		blockTag,
	})
	if err != nil {
		return "", err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return "", fmt.Errorf("blockchain: parse call result: %w", err)
	}
	return hex, nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, signedTxHex string) (string, error) {
	raw, err := c.call(ctx, "eth_sendRawTransaction", []interface{}{signedTxHex})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("blockchain: parse tx hash: %w", err)
	}
	return hash, nil
}
