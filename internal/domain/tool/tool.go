package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Kind 工具操作类型 — 驱动权限策略自动决策
type Kind string

const (
	KindRead        Kind = "read"        // 只读操作 (read_file, list_dir...)
	KindEdit        Kind = "edit"        // 修改文件 (write_file, patch...)
	KindExecute     Kind = "execute"     // 执行命令 (shell, run...)
	KindDelete      Kind = "delete"      // 删除操作
	KindSearch      Kind = "search"      // 搜索操作 (web_search, grep...)
	KindFetch       Kind = "fetch"       // 网络获取 (fetch_url...)
	KindThink       Kind = "think"       // 纯思考 (save_memory, plan...)
	KindCommunicate Kind = "communicate" // 交互 (ask_user, notify...)
)

// MutatorKinds 需要用户确认的操作类型 (AskMode 下自动拦截)
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindDelete:  true,
	KindExecute: true,
}

// SafeKinds 自动放行的安全操作类型
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
	KindThink:  true,
}

// Tool 工具接口 - 所有可执行工具的抽象
type Tool interface {
	// Name 返回工具名称
	Name() string
	// Description 返回工具描述
	Description() string
	// Kind 返回工具操作类型 (驱动权限策略自动决策)
	Kind() Kind
	// Schema 返回参数的 JSON Schema
	Schema() map[string]interface{}
	// Execute 执行工具
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result 工具执行结果
type Result struct {
	Output   string                 // 给 LLM 的精简结果
	Display  string                 // 给 UI 的富文本渲染 (为空时 fallback 到 Output)
	Success  bool                   // 是否成功
	Metadata map[string]interface{} // 元数据
	Error    string                 // 错误信息
}

// DisplayOrOutput 返回 Display (优先) 或回退到 Output
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// Definition 工具定义，用于传递给模型
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	// Namespace is the tool's namespace tag (spec §4.2), carried through to
	// Policy so a session's tool surface can be filtered by it.
	Namespace string `json:"namespace,omitempty"`
}

// Registry 工具注册表接口
type Registry interface {
	// Register 注册工具
	Register(tool Tool) error
	// Unregister 注销工具
	Unregister(name string) error
	// Get 获取工具
	Get(name string) (Tool, bool)
	// List 列出所有工具
	List() []Definition
	// Has 检查工具是否存在
	Has(name string) bool
}

// InMemoryRegistry 内存工具注册表
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewInMemoryRegistry 创建内存注册表
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]Tool),
	}
}

// Register 注册工具
func (r *InMemoryRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	return nil
}

// Unregister 注销工具
func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}

	delete(r.tools, name)
	return nil
}

// Get 获取工具
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// List 列出所有工具定义
func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		ns := ""
		if n, ok := t.(Namespaced); ok {
			ns = n.Namespace()
		}
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
			Namespace:   ns,
		})
	}
	return defs
}

// Has 检查工具是否存在
func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// Policy is a session-scoped allow/deny list, matched against either a
// tool's name or its Namespace (spec §4.2's "namespace... used for
// session-scoped access filtering"). It is the knob the Tool Scheduler's
// per-(session, namespace-set) Handler (spec §4.3) filters through.
type Policy struct {
	AllowList []string // tool names or namespaces; empty means "allow everything"
	DenyList  []string // tool names or namespaces; checked before AllowList
}

// IsAllowed reports whether def may be offered to a session's model or
// dispatched through its scheduler handler.
func (p *Policy) IsAllowed(def Definition) bool {
	for _, denied := range p.DenyList {
		if denied == def.Name || (def.Namespace != "" && denied == def.Namespace) {
			return false
		}
	}

	if len(p.AllowList) == 0 {
		return true
	}

	for _, allowed := range p.AllowList {
		if allowed == def.Name || (def.Namespace != "" && allowed == def.Namespace) {
			return true
		}
	}

	return false
}

// PolicyEnforcer binds a Policy to a Registry so a session's filtered tool
// surface and per-call dispatch checks are computed from live tool
// definitions rather than a stale snapshot.
type PolicyEnforcer struct {
	policy   *Policy
	registry Registry
}

// NewPolicyEnforcer returns an enforcer for policy over registry.
func NewPolicyEnforcer(policy *Policy, registry Registry) *PolicyEnforcer {
	return &PolicyEnforcer{
		policy:   policy,
		registry: registry,
	}
}

// FilteredList returns the registry's tool definitions this enforcer's
// policy allows — the "namespaces filtered" tool surface the Completion
// Loop builds for each turn (spec §4.4 step 2).
func (e *PolicyEnforcer) FilteredList() []Definition {
	all := e.registry.List()
	filtered := make([]Definition, 0, len(all))

	for _, def := range all {
		if e.policy.IsAllowed(def) {
			filtered = append(filtered, def)
		}
	}

	return filtered
}

// CanExecute reports whether toolName may be dispatched, resolving its
// namespace from the registry so a namespace-level policy entry applies
// even when the tool's own name isn't listed.
func (e *PolicyEnforcer) CanExecute(toolName string) bool {
	t, ok := e.registry.Get(toolName)
	if !ok {
		return false
	}
	ns := ""
	if n, ok := t.(Namespaced); ok {
		ns = n.Namespace()
	}
	return e.policy.IsAllowed(Definition{Name: toolName, Namespace: ns})
}

// MarshalJSON 序列化工具结果
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"output":   r.Output,
		"display":  r.Display,
		"success":  r.Success,
		"metadata": r.Metadata,
		"error":    r.Error,
	})
}

// Chunk 是异步工具通过 run_async 推送的一段流式输出。FinalResult 为 nil
// 表示这只是中间进度；调度器只在收到终态 chunk 时才关闭 ongoing_streams
// 条目并把结果交给完成循环。
type Chunk struct {
	TaskID      string  // 对应 AssistantToolCall 的 call id / 生成的 task_id
	Stage       string  // 人类可读的进度阶段，可为空
	Progress    float64 // 0..1，可为空
	FinalResult *Result // 非 nil 表示这是终态 chunk
}

// AsyncCapable 是工具的可选能力接口 —— 对应 AomiTool 的第二种执行模式
// (run_async)。未实现该接口的工具一律视为仅支持同步执行 (run_sync)。
//
// RunAsync 必须立即返回：它只负责把任务移交给后台（goroutine、外部队列、
// webhook 等），从不阻塞调用它的完成循环。真正的进度/终态通过 resultCh
// 推送；调用方（调度器）负责在拿到终态 chunk 后关闭该通道的读取。
type AsyncCapable interface {
	// SupportsAsync 报告该工具是否应该以异步模式调度。
	SupportsAsync() bool
	// RunAsync 启动异步执行并立即返回；ack 是写回 ToolResult 占位内容的
	// 确认文本（例如 "<tool> started, task_id: <id>"）。
	RunAsync(ctx context.Context, args map[string]interface{}, taskID string, resultCh chan<- Chunk) (ack string, err error)
}

// Namespaced 是工具的可选能力接口，供需要把自己归入一个命名空间的工具
// （例如区分 "wallet.*"、"chain.*" 分组）使用。Registry.List 读取它填入
// Definition.Namespace，供会话的工具策略按命名空间过滤；wrapper 生成的
// JSON Schema 不包含 namespace。未实现时默认落在空命名空间。
type Namespaced interface {
	Namespace() string
}
