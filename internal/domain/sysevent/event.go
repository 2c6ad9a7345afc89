// Package sysevent defines the System Event tagged variant pushed through
// the per-session Event Bus, bidirectionally, by the UI, tools and
// background workers.
package sysevent

// Kind discriminates the tagged SystemEvent variant, and doubles as the
// wire "type" field (see spec §6.1).
type Kind string

const (
	KindSystemNotice      Kind = "SystemNotice"
	KindSystemError       Kind = "SystemError"
	KindBackendConnecting Kind = "BackendConnecting"
	KindBackendConnected  Kind = "BackendConnected"
	KindMissingAPIKey     Kind = "MissingApiKey"
	KindWalletTxRequest   Kind = "WalletTxRequest"
	KindWalletTxResponse  Kind = "WalletTxResponse"
	KindToolProgress      Kind = "ToolProgress"
	KindToolResult        Kind = "ToolResult"
	KindUserRequest       Kind = "UserRequest"
	KindUserResponse      Kind = "UserResponse"
)

// IngressAllowed is the set of kinds the UI is permitted to push via
// POST /api/system/event. Anything else is rejected with
// 400 {error:"forbidden_event"}.
var IngressAllowed = map[Kind]bool{
	KindWalletTxResponse: true,
	KindUserRequest:      true,
	KindUserResponse:     true,
}

// Event is the tagged SystemEvent variant. Only fields relevant to Kind
// are populated; Kind selects the wire "type" discriminant.
type Event struct {
	Kind Kind `json:"type"`

	// SystemNotice / SystemError / BackendConnecting
	Message string `json:"msg,omitempty"`

	// WalletTxRequest
	Payload string `json:"payload,omitempty"`

	// WalletTxResponse
	Status string `json:"status,omitempty"`
	TxHash string `json:"tx_hash,omitempty"`
	Detail string `json:"detail,omitempty"`

	// ToolProgress / ToolResult
	TaskID   string  `json:"task_id,omitempty"`
	ToolName string  `json:"tool_name,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Result   string  `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`

	// UserRequest / UserResponse
	RequestID  string                 `json:"request_id,omitempty"`
	ReqKind    string                 `json:"kind,omitempty"`
	ReqPayload map[string]interface{} `json:"request_payload,omitempty"`
}

// Notice builds a SystemNotice event.
func Notice(msg string) Event { return Event{Kind: KindSystemNotice, Message: msg} }

// SystemErr builds a SystemError event.
func SystemErr(msg string) Event { return Event{Kind: KindSystemError, Message: msg} }

// WalletRequest builds a WalletTxRequest event.
func WalletRequest(payload string) Event {
	return Event{Kind: KindWalletTxRequest, Payload: payload}
}

// WalletResponse builds a WalletTxResponse event.
func WalletResponse(status, txHash, detail string) Event {
	return Event{Kind: KindWalletTxResponse, Status: status, TxHash: txHash, Detail: detail}
}

// Progress builds a ToolProgress event.
func Progress(taskID, toolName, stage, message string, progress float64) Event {
	return Event{Kind: KindToolProgress, TaskID: taskID, ToolName: toolName, Stage: stage, Message: message, Progress: progress}
}

// ToolResultEvent builds a terminal ToolResult event.
func ToolResultEvent(taskID, toolName, result, errText string) Event {
	return Event{Kind: KindToolResult, TaskID: taskID, ToolName: toolName, Result: result, Error: errText}
}
