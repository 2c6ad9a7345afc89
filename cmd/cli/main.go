// Command cli is a local debug client for the legacy single-shot agent
// loop: it reads one line at a time from stdin, drives application.App's
// AgentLoop directly (no session manager, no event bus), and renders
// each turn through the tui package.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/application"
	"github.com/aomi-labs/orchestrator/internal/domain/service"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/config"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/logger"
	"github.com/aomi-labs/orchestrator/internal/interfaces/tui"
)

const (
	cliName    = "orchestrator-cli"
	cliVersion = "0.1.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		model    string
		userName string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:     "cli",
		Short:   cliName + " — local debug client for the orchestrator agent loop",
		Version: cliVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(model, userName, logLevel)
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("%s v{{.Version}}\n", cliName))

	cmd.Flags().StringVar(&model, "model", "", "override the default model")
	cmd.Flags().StringVar(&userName, "user", "dev", "display name for the prompt")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug is noisy for a REPL)")

	return cmd
}

func runREPL(model, userName, logLevel string) error {
	log, err := logger.NewLogger(logger.Config{Level: logLevel, Format: "console", OutputPath: "stderr"})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	if model != "" {
		cfg.Agent.DefaultModel = model
	}

	app, err := application.NewAppCLI(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}

	ui := tui.New(app.AgentLoop(), app.ToolExecutor(), tui.Config{
		Model:    cfg.Agent.DefaultModel,
		UserName: userName,
	}, log)
	ui.PrintBanner()

	ctx := context.Background()
	history := make([]service.LLMMessage, 0, 16)
	systemPrompt := app.SystemPrompt()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/exit" || line == "/quit" {
			break
		}

		result, err := ui.RunMessage(ctx, systemPrompt, line, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			fmt.Print("> ")
			continue
		}

		history = append(history, service.LLMMessage{Role: "user", Content: line})
		history = append(history, service.LLMMessage{Role: "assistant", Content: result.FinalContent})

		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		log.Error("stdin read error", zap.Error(err))
	}
	return nil
}
