// Package tools implements the blockchain-operation tools the completion
// loop dispatches to the LLM: sending a transaction through the wallet
// protocol, reading balances and contract state, and two scenario fixtures
// (add, long_job) that exercise the sync and async dispatch paths.
//
// Grounded on infrastructure/tool/builtin_tools.go's Tool shape (Name/
// Description/Kind/Schema/Execute on a small struct holding its own
// dependencies), generalized from sandboxed shell/file operations to calls
// against internal/infrastructure/blockchain.Client and the per-session
// wallet slot.
package tools

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/application/sessionmanager"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
	domaintool "github.com/aomi-labs/orchestrator/internal/domain/tool"
	"github.com/aomi-labs/orchestrator/internal/domain/wallet"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/blockchain"
)

// chainNamespace is what Namespace returns for every tool in this file.
// Registry.List copies it into Definition.Namespace, so a session's tool
// policy can allow or deny these tools as one group.
const chainNamespace = "chain"

// SendTransactionToWalletTool implements the LLM-facing half of the Wallet
// Protocol (spec §4.7): it pushes a WalletTxRequest and puts the session's
// wallet slot into Pending, immediately returning — resolution happens out
// of band when the UI posts a WalletTxResponse system event.
type SendTransactionToWalletTool struct {
	manager *sessionmanager.Manager
	logger  *zap.Logger
}

// NewSendTransactionToWalletTool returns a tool that gates transaction
// submission behind the session's wallet approval slot.
func NewSendTransactionToWalletTool(manager *sessionmanager.Manager, logger *zap.Logger) *SendTransactionToWalletTool {
	return &SendTransactionToWalletTool{manager: manager, logger: logger}
}

func (t *SendTransactionToWalletTool) Name() string { return "send_transaction_to_wallet" }

func (t *SendTransactionToWalletTool) Description() string {
	return `Request the user's wallet to sign and broadcast a transaction. This call
does not itself broadcast anything: it surfaces a pending approval to the
user and returns immediately. The outcome (approved/rejected, tx hash)
arrives later as a system note in a subsequent turn — do not assume success
from this call's result alone.`
}

func (t *SendTransactionToWalletTool) Kind() domaintool.Kind { return domaintool.KindCommunicate }

func (t *SendTransactionToWalletTool) Namespace() string { return chainNamespace }

func (t *SendTransactionToWalletTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient address.",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Transfer amount in wei, as a decimal string (e.g. \"1000000000000000000\" for 1 ETH).",
			},
			"data": map[string]interface{}{
				"type":        "string",
				"description": "Optional ABI-encoded calldata for a contract call.",
			},
		},
		"required": []string{"to", "value"},
	}
}

func (t *SendTransactionToWalletTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	sessionID, _ := args["session_id"].(string)
	slot := t.manager.Wallet(sessionID)
	bus := t.manager.Bus(sessionID)
	if slot == nil || bus == nil {
		return &domaintool.Result{Success: false, Error: "unknown session_id"}, nil
	}

	to, _ := args["to"].(string)
	value, _ := args["value"].(string)
	data, _ := args["data"].(string)
	payload := fmt.Sprintf(`{"to":%q,"value":%q,"data":%q}`, to, value, data)

	callID, _ := domaintool.CallIDFromContext(ctx)
	if err := slot.Request(callID, payload); err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	bus.Push(sysevent.WalletRequest(payload))
	t.logger.Info("wallet tx requested", zap.String("session_id", sessionID), zap.String("to", to))

	return &domaintool.Result{
		Success: true,
		Output:  fmt.Sprintf("transaction pending user approval: send %s wei to %s", value, to),
		Metadata: map[string]interface{}{
			"status": string(wallet.StatePending),
		},
	}, nil
}

// GetBalanceTool is a synchronous read-only tool returning an address's
// balance.
type GetBalanceTool struct {
	chain  *blockchain.Client
	logger *zap.Logger
}

// NewGetBalanceTool returns a tool backed by chain.
func NewGetBalanceTool(chain *blockchain.Client, logger *zap.Logger) *GetBalanceTool {
	return &GetBalanceTool{chain: chain, logger: logger}
}

func (t *GetBalanceTool) Name() string             { return "get_balance" }
func (t *GetBalanceTool) Description() string      { return "Look up an address's current balance, in wei (hex-quantity)." }
func (t *GetBalanceTool) Kind() domaintool.Kind     { return domaintool.KindRead }
func (t *GetBalanceTool) Namespace() string         { return chainNamespace }

func (t *GetBalanceTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"address": map[string]interface{}{
				"type":        "string",
				"description": "The address to query.",
			},
			"block": map[string]interface{}{
				"type":        "string",
				"description": "Block tag, e.g. \"latest\" (default).",
			},
		},
		"required": []string{"address"},
	}
}

func (t *GetBalanceTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	address, _ := args["address"].(string)
	if address == "" {
		return &domaintool.Result{Success: false, Error: "address is required"}, nil
	}
	block, _ := args["block"].(string)

	balance, err := t.chain.GetBalance(ctx, address, block)
	if err != nil {
		t.logger.Warn("get_balance failed", zap.String("address", address), zap.Error(err))
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{Success: true, Output: balance}, nil
}

// ReadContractTool is a synchronous read-only tool wrapping eth_call.
type ReadContractTool struct {
	chain  *blockchain.Client
	logger *zap.Logger
}

// NewReadContractTool returns a tool backed by chain.
func NewReadContractTool(chain *blockchain.Client, logger *zap.Logger) *ReadContractTool {
	return &ReadContractTool{chain: chain, logger: logger}
}

func (t *ReadContractTool) Name() string         { return "read_contract" }
func (t *ReadContractTool) Kind() domaintool.Kind { return domaintool.KindRead }
func (t *ReadContractTool) Namespace() string    { return chainNamespace }

func (t *ReadContractTool) Description() string {
	return "Execute a read-only contract call (eth_call) against a contract address with ABI-encoded calldata."
}

func (t *ReadContractTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Contract address.",
			},
			"data": map[string]interface{}{
				"type":        "string",
				"description": "ABI-encoded calldata.",
			},
			"block": map[string]interface{}{
				"type":        "string",
				"description": "Block tag, e.g. \"latest\" (default).",
			},
		},
		"required": []string{"to", "data"},
	}
}

func (t *ReadContractTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	to, _ := args["to"].(string)
	data, _ := args["data"].(string)
	if to == "" || data == "" {
		return &domaintool.Result{Success: false, Error: "to and data are required"}, nil
	}
	block, _ := args["block"].(string)

	result, err := t.chain.Call(ctx, to, data, block)
	if err != nil {
		t.logger.Warn("read_contract failed", zap.String("to", to), zap.Error(err))
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	return &domaintool.Result{Success: true, Output: result}, nil
}
