// Package application is the dependency-injection container: it builds the
// Event Bus / Tool Scheduler / Completion Loop / Session Manager stack the
// spec describes, registers the blockchain-operation tool surface, and
// wires the result into the HTTP, gRPC and legacy single-shot interfaces.
//
// Grounded on the teacher's app.go wiring shape (a struct of already-built
// components assembled by a handful of init*() steps) — generalized from
// "one shared AgentLoop fed by Telegram/HTTP/REPL adapters" to "one
// Session Manager + Completion Loop shared across sessions, each owning
// its own history/scheduler/wallet slot", per SPEC_FULL.md's architecture.
package application

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aomi-labs/orchestrator/internal/application/runtime"
	"github.com/aomi-labs/orchestrator/internal/application/sessionmanager"
	apptools "github.com/aomi-labs/orchestrator/internal/application/tools"
	"github.com/aomi-labs/orchestrator/internal/domain/completion"
	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/service"
	"github.com/aomi-labs/orchestrator/internal/domain/session"
	domaintool "github.com/aomi-labs/orchestrator/internal/domain/tool"
	"github.com/aomi-labs/orchestrator/internal/domain/wallet"
	"github.com/aomi-labs/orchestrator/internal/domain/worker"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/blockchain"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/config"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/llm"
	_ "github.com/aomi-labs/orchestrator/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/aomi-labs/orchestrator/internal/infrastructure/llm/gemini"   // register gemini provider factory
	_ "github.com/aomi-labs/orchestrator/internal/infrastructure/llm/openai"   // register openai provider factory
	"github.com/aomi-labs/orchestrator/internal/infrastructure/persistence"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/prompt"
	"github.com/aomi-labs/orchestrator/internal/interfaces/agentgrpc"
	httpServer "github.com/aomi-labs/orchestrator/internal/interfaces/http"
)

// App is the process-wide dependency container: it owns the long-lived
// infrastructure (LLM router, tool registry, chain client, session
// manager) and the interface-layer servers built on top of it.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	toolRegistry  domaintool.Registry
	llmRouter     *llm.Router
	chain         *blockchain.Client
	promptEngine  *prompt.PromptEngine
	systemPrompt  string
	snapshotStore *persistence.SnapshotStore

	sessionManager *sessionmanager.Manager
	completionLoop *completion.Loop
	runtime        *runtime.Runtime

	// legacy single-shot surface (spec §1's "not in scope" HTTP layer still
	// carries this alongside the session endpoints — see server.go) shared
	// by the /api/v1/agent SSE endpoint and cmd/cli's debug client.
	agentLoop    *service.AgentLoop
	securityHook *service.SecurityHook

	httpServer   *httpServer.Server
	grpcAgentSrv *agentgrpc.Server
}

// NewApp builds the full application: tool registry, LLM router, session
// stack, and every interface surface (HTTP, gRPC).
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{config: cfg, logger: logger}

	if err := app.initPersistence(); err != nil {
		return nil, fmt.Errorf("init persistence: %w", err)
	}
	if err := app.initToolsAndLLM(); err != nil {
		return nil, fmt.Errorf("init tools/llm: %w", err)
	}
	if err := app.initSessionStack(); err != nil {
		return nil, fmt.Errorf("init session stack: %w", err)
	}
	if err := app.initLegacyAgentLoop(); err != nil {
		return nil, fmt.Errorf("init legacy agent loop: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("init interfaces: %w", err)
	}

	return app, nil
}

// NewAppCLI builds a lightweight application for the debug CLI client:
// tools, LLM router and the legacy agent loop, but no HTTP/gRPC servers
// and no durable snapshot store.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{config: cfg, logger: logger}

	if err := app.initToolsAndLLM(); err != nil {
		return nil, fmt.Errorf("init tools/llm: %w", err)
	}
	if err := app.initLegacyAgentLoop(); err != nil {
		return nil, fmt.Errorf("init legacy agent loop: %w", err)
	}
	return app, nil
}

// initPersistence opens the optional §6.3 snapshot store. Database.DSN
// empty ⇒ no persistence; the session manager simply never restores.
func (app *App) initPersistence() error {
	if app.config.Database.DSN == "" {
		return nil
	}
	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		app.logger.Warn("snapshot store unavailable, continuing memory-only", zap.Error(err))
		return nil
	}
	app.db = db
	app.snapshotStore = persistence.NewSnapshotStore(db)
	return nil
}

// initToolsAndLLM builds the process-wide Tool Registry (spec §4.2) and
// the LLM Router, registers the blockchain-operation tools plus the
// add/long_job fixtures, and assembles the system prompt.
func (app *App) initToolsAndLLM() error {
	app.toolRegistry = domaintool.NewInMemoryRegistry()
	app.chain = blockchain.NewClient(app.config.Chain.RPCURL, app.logger)

	app.llmRouter = llm.NewRouter(app.logger)
	for _, p := range app.config.Agent.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("failed to create LLM provider", zap.String("name", p.Name), zap.Error(err))
			continue
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM router initialized", zap.Int("providers", len(app.config.Agent.Providers)))

	if err := app.toolRegistry.Register(apptools.NewAddTool()); err != nil {
		return err
	}
	if err := app.toolRegistry.Register(apptools.NewLongJobTool(0, app.logger)); err != nil {
		return err
	}
	if err := app.toolRegistry.Register(apptools.NewGetBalanceTool(app.chain, app.logger)); err != nil {
		return err
	}
	if err := app.toolRegistry.Register(apptools.NewReadContractTool(app.chain, app.logger)); err != nil {
		return err
	}
	// send_transaction_to_wallet is registered in initSessionStack, once the
	// session manager it needs to reach wallet slots through exists.

	app.promptEngine = prompt.NewPromptEngine(app.config.Agent.Workspace, app.logger)
	if err := app.promptEngine.Discover(); err != nil {
		app.logger.Warn("prompt engine discovery failed, using empty system prompt", zap.Error(err))
	}
	toolNames := make([]string, 0, len(app.toolRegistry.List()))
	for _, d := range app.toolRegistry.List() {
		toolNames = append(toolNames, d.Name)
	}
	app.systemPrompt = app.promptEngine.Assemble(prompt.PromptContext{
		RegisteredTools: toolNames,
		ModelName:       app.config.Agent.DefaultModel,
		Workspace:       app.config.Agent.Workspace,
	})

	return nil
}

// initSessionStack wires the Session Manager, the wallet-protocol tool,
// the Completion Loop and the Runtime facade the HTTP/gRPC surfaces drive
// (spec §4.4–§4.7).
func (app *App) initSessionStack() error {
	sessionCfg := sessionmanager.Config{
		IdleTimeout:      app.config.Session.IdleTimeout,
		CleanupInterval:  app.config.Session.CleanupInterval,
		WalletRequestTTL: app.config.Session.WalletRequestTTL,
		HMACKey:          []byte(app.config.Session.HMACKey),
	}
	app.sessionManager = sessionmanager.New(sessionCfg, app.logger)

	if len(app.config.Session.ToolNamespaces) > 0 {
		app.sessionManager.SetToolPolicy(&domaintool.Policy{AllowList: app.config.Session.ToolNamespaces}, app.toolRegistry)
	}

	if err := app.toolRegistry.Register(apptools.NewSendTransactionToWalletTool(app.sessionManager, app.logger)); err != nil {
		return err
	}

	if app.snapshotStore != nil {
		app.sessionManager.OnRestore(func(id string) ([]message.Message, int, *wallet.Request, bool) {
			restored, ok, err := app.snapshotStore.Load(id)
			if err != nil {
				app.logger.Warn("snapshot load failed", zap.String("session_id", id), zap.Error(err))
				return nil, 0, nil, false
			}
			if !ok {
				return nil, 0, nil, false
			}
			return restored.History, restored.ProcessedEventIdx, restored.PendingWalletTx, true
		})
		app.sessionManager.OnPersist(func(id string, snap session.Snapshot) {
			if err := app.snapshotStore.Save(snap); err != nil {
				app.logger.Warn("snapshot save failed", zap.String("session_id", id), zap.Error(err))
			}
		})
	}

	app.sessionManager.OnWorkerSetup(func(w *worker.Worker) {
		w.Register("gas_price", func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			price, err := app.chain.GasPrice(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"gas_price": price}, nil
		})
	})

	model := app.config.Agent.DefaultModel
	app.completionLoop = completion.New(app.llmRouter, app.toolRegistry, model, app.logger)
	app.runtime = runtime.New(app.sessionManager, app.completionLoop, app.systemPrompt, app.logger)

	return nil
}

// initLegacyAgentLoop builds the single-shot ReAct agent loop kept for the
// /api/v1/agent SSE endpoint and the debug CLI client (spec §1's "not in
// scope" transport layer exposes both the session surface and this one).
func (app *App) initLegacyAgentLoop() error {
	loopTools := &toolBridge{registry: app.toolRegistry}

	loopCfg := service.DefaultAgentLoopConfig()
	loopCfg.Model = app.config.Agent.DefaultModel

	if len(app.config.Agent.ModelPolicies) > 0 {
		loopCfg.ModelPolicies = make(map[string]*service.ModelPolicyOverride)
		for key, cfgPolicy := range app.config.Agent.ModelPolicies {
			loopCfg.ModelPolicies[key] = &service.ModelPolicyOverride{
				RepairToolPairing:   cfgPolicy.RepairToolPairing,
				EnforceTurnOrdering: cfgPolicy.EnforceTurnOrdering,
				ReasoningFormat:     cfgPolicy.ReasoningFormat,
				ProgressInterval:    cfgPolicy.ProgressInterval,
				ProgressEscalation:  cfgPolicy.ProgressEscalation,
				PromptStyle:         cfgPolicy.PromptStyle,
				SystemRoleSupport:   cfgPolicy.SystemRoleSupport,
				ThinkingTagHint:     cfgPolicy.ThinkingTagHint,
			}
		}
	}
	if app.config.Agent.Guardrails.LoopDetectThreshold > 0 {
		loopCfg.LoopDetectThreshold = app.config.Agent.Guardrails.LoopDetectThreshold
	}
	if app.config.Agent.Guardrails.LoopNameThreshold > 0 {
		loopCfg.LoopNameThreshold = app.config.Agent.Guardrails.LoopNameThreshold
	}
	if app.config.Agent.Runtime.MaxRetries > 0 {
		loopCfg.MaxRetries = app.config.Agent.Runtime.MaxRetries
	}
	if app.config.Agent.Runtime.RetryBaseWait > 0 {
		loopCfg.RetryBaseWait = app.config.Agent.Runtime.RetryBaseWait
	}
	if app.config.Agent.Compaction.MessageThreshold > 0 {
		loopCfg.CompactThreshold = app.config.Agent.Compaction.MessageThreshold
	}
	if app.config.Agent.Compaction.KeepRecent > 0 {
		loopCfg.CompactKeepLast = app.config.Agent.Compaction.KeepRecent
	}

	app.agentLoop = service.NewAgentLoop(app.llmRouter, loopTools, loopCfg, app.logger)
	app.logger.Info("legacy agent loop initialized", zap.String("model", loopCfg.Model))

	app.securityHook = service.NewSecurityHook(app.config.Agent.Security, nil, app.logger)
	app.agentLoop.SetHooks(app.securityHook)

	mwPipeline := service.NewMiddlewarePipeline(app.logger)
	mwPipeline.Use(service.NewDanglingToolCallMiddleware(app.logger))
	app.agentLoop.SetMiddleware(mwPipeline)

	return nil
}

// initInterfaces builds the HTTP server (session surface + legacy
// single-shot surface) and the gRPC agent server.
func (app *App) initInterfaces() error {
	loopTools := &toolBridge{registry: app.toolRegistry}

	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: app.config.Gateway.Host,
			Port: app.config.Gateway.Port,
			Mode: app.config.Gateway.Mode,
		},
		app.runtime,
		app.agentLoop,
		loopTools,
		app.promptEngine,
		app.logger,
	)

	grpcPort := app.config.Agent.GRPCPort
	if grpcPort == 0 {
		grpcPort = 50052
	}
	app.grpcAgentSrv = agentgrpc.NewServer(app.agentLoop, loopTools, grpcPort, app.logger)
	app.logger.Info("gRPC agent server created", zap.Int("port", grpcPort))

	return nil
}

// Start starts every interface the app owns.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("starting application")
	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if app.grpcAgentSrv != nil {
		if err := app.grpcAgentSrv.Start(); err != nil {
			app.logger.Warn("gRPC agent server failed to start", zap.Error(err))
		}
	}
	app.logger.Info("application started")
	return nil
}

// Stop stops every interface and closes owned resources.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("stopping application")
	if app.grpcAgentSrv != nil {
		app.grpcAgentSrv.Stop()
	}
	if app.httpServer != nil {
		if err := app.httpServer.Stop(ctx); err != nil {
			app.logger.Error("failed to stop HTTP server", zap.Error(err))
		}
	}
	if app.sessionManager != nil {
		app.sessionManager.Close()
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("failed to close database connection", zap.Error(err))
			}
		}
	}
	app.logger.Info("application stopped")
	return nil
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger { return app.logger }

// AppConfig returns the application config.
func (app *App) AppConfig() *config.Config { return app.config }

// AgentLoop returns the legacy single-shot agent loop (used by cmd/cli).
func (app *App) AgentLoop() *service.AgentLoop { return app.agentLoop }

// PromptEngine returns the prompt engine.
func (app *App) PromptEngine() *prompt.PromptEngine { return app.promptEngine }

// SystemPrompt returns the assembled system prompt (used by cmd/cli).
func (app *App) SystemPrompt() string { return app.systemPrompt }

// ToolRegistry returns the tool registry.
func (app *App) ToolRegistry() domaintool.Registry { return app.toolRegistry }

// ToolExecutor returns a service.ToolExecutor view over the tool registry,
// for callers outside this package (cmd/cli's debug client) that need to
// drive the legacy AgentLoop directly.
func (app *App) ToolExecutor() service.ToolExecutor { return &toolBridge{registry: app.toolRegistry} }

// Runtime returns the session Runtime facade.
func (app *App) Runtime() *runtime.Runtime { return app.runtime }
