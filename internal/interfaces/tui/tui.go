package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/entity"
	"github.com/aomi-labs/orchestrator/internal/domain/service"
)

// brand colors, carried over from the deleted interactive REPL's palette.
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
	colorMagenta = lipgloss.Color("#AF5FFF")
)

var (
	bannerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	labelStyle    = lipgloss.NewStyle().Foreground(colorGray)
	userStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	thinkStyle    = lipgloss.NewStyle().Italic(true).Foreground(colorMagenta)
	thinkLineStyle = lipgloss.NewStyle().Foreground(colorGray)
	toolNameStyle = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
	toolArgStyle  = lipgloss.NewStyle().Foreground(colorGray)
	toolOkStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	toolErrStyle  = lipgloss.NewStyle().Foreground(colorRed)
	toolLineStyle = lipgloss.NewStyle().Foreground(colorGray)
	stepStyle     = lipgloss.NewStyle().Foreground(colorGray)
	errStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// TUI is a terminal user interface for the legacy single-shot AgentLoop
// debug client. It renders agent events with lipgloss styling and the
// final assistant message through glamour's markdown renderer.
type TUI struct {
	agentLoop *service.AgentLoop
	toolExec  service.ToolExecutor
	model     string
	sessionID string
	logger    *zap.Logger
	md        *glamour.TermRenderer
}

// Config holds TUI configuration
type Config struct {
	Model     string
	SessionID string
	UserName  string
}

// New creates a new TUI instance
func New(agentLoop *service.AgentLoop, toolExec service.ToolExecutor, cfg Config, logger *zap.Logger) *TUI {
	session := cfg.SessionID
	if session == "" {
		session = fmt.Sprintf("tui_%d", time.Now().UnixNano())
	}

	md, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		md = nil
	}

	return &TUI{
		agentLoop: agentLoop,
		toolExec:  toolExec,
		model:     cfg.Model,
		sessionID: session,
		logger:    logger,
		md:        md,
	}
}

// PrintBanner displays the CLI debug client header.
func (t *TUI) PrintBanner() {
	fmt.Println()
	fmt.Println(bannerStyle.Render(" aomi orchestrator debug CLI "))
	fmt.Printf("%s %s │ %s %s\n\n",
		labelStyle.Render("Model:"), t.model,
		labelStyle.Render("Session:"), t.sessionID[:minInt(16, len(t.sessionID))])
}

// RunMessage sends a message through the agent loop and renders events.
func (t *TUI) RunMessage(ctx context.Context, systemPrompt, userMessage string, history []service.LLMMessage) (*service.AgentResult, error) {
	fmt.Println(userStyle.Render("▶ You"))
	fmt.Printf("  %s\n\n", userMessage)

	result, eventCh := t.agentLoop.Run(ctx, systemPrompt, userMessage, history, "")

	var finalText strings.Builder
	for event := range eventCh {
		t.renderEvent(event, &finalText)
	}

	t.renderFinal(finalText.String())
	t.renderSummary(result)
	return result, nil
}

func (t *TUI) renderEvent(event entity.AgentEvent, finalText *strings.Builder) {
	switch event.Type {
	case entity.EventThinking:
		fmt.Println(thinkStyle.Render("💭 Thinking"))
		for _, line := range strings.Split(event.Content, "\n") {
			fmt.Println("  " + thinkLineStyle.Render(line))
		}
		fmt.Println()

	case entity.EventTextDelta:
		finalText.WriteString(event.Content)

	case entity.EventToolCall:
		if event.ToolCall != nil {
			line := fmt.Sprintf("\n🔧 %s", toolNameStyle.Render(event.ToolCall.Name))
			if len(event.ToolCall.Arguments) > 0 {
				line += " " + toolArgStyle.Render(summarizeArgs(event.ToolCall.Arguments))
			}
			fmt.Println(line)
		}

	case entity.EventToolResult:
		if event.ToolCall != nil {
			icon := toolOkStyle.Render("✓")
			if !event.ToolCall.Success {
				icon = toolErrStyle.Render("✗")
			}
			dur := ""
			if event.ToolCall.Duration > 0 {
				dur = " " + toolLineStyle.Render(fmt.Sprintf("(%s)", event.ToolCall.Duration.Round(time.Millisecond)))
			}
			fmt.Printf("  %s %s%s\n", icon, event.ToolCall.Name, dur)

			output := event.ToolCall.Output
			if len(output) > 500 {
				output = output[:497] + "..."
			}
			if output != "" {
				lines := strings.Split(output, "\n")
				const maxLines = 10
				shown := lines
				if len(lines) > maxLines {
					shown = lines[:maxLines]
				}
				for _, line := range shown {
					fmt.Println("  " + toolLineStyle.Render("│ "+line))
				}
				if len(lines) > maxLines {
					fmt.Println("  " + toolLineStyle.Render(fmt.Sprintf("│ ... (%d more lines)", len(lines)-maxLines)))
				}
			}
			fmt.Println()
		}

	case entity.EventStepDone:
		if event.StepInfo != nil {
			fmt.Println(stepStyle.Render(fmt.Sprintf("  ── step %d │ %d tokens │ %s ──",
				event.StepInfo.Step, event.StepInfo.TokensUsed, event.StepInfo.ModelUsed)))
		}

	case entity.EventError:
		fmt.Println()
		fmt.Println(errStyle.Render("⚠ Error: " + event.Error))
		fmt.Println()

	case entity.EventDone:
		fmt.Println()
		fmt.Println(assistantStyle.Render("🤖 Assistant"))
	}
}

// renderFinal renders the accumulated assistant text as markdown through
// glamour, falling back to plain text if rendering fails (e.g. no TTY).
func (t *TUI) renderFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if t.md == nil {
		fmt.Println(text)
		return
	}
	out, err := t.md.Render(text)
	if err != nil {
		fmt.Println(text)
		return
	}
	fmt.Println(strings.TrimSpace(out))
}

func (t *TUI) renderSummary(result *service.AgentResult) {
	sep := labelStyle.Render("────────────────────────────────────")
	fmt.Println("\n" + sep)
	fmt.Println(labelStyle.Render(fmt.Sprintf("  Steps: %d │ Tokens: %d │ Model: %s",
		result.TotalSteps, result.TotalTokens, result.ModelUsed)))
	if len(result.ToolsUsed) > 0 {
		fmt.Println(labelStyle.Render("  Tools: " + strings.Join(result.ToolsUsed, ", ")))
	}
	fmt.Println(sep + "\n")
}

// summarizeArgs extracts a compact, priority-ordered argument preview for
// the tool-call announcement line.
func summarizeArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	priority := []string{"to", "value", "contract", "query", "task_id", "topic"}
	var parts []string
	for _, key := range priority {
		if v, ok := args[key]; ok {
			parts = append(parts, truncate(fmt.Sprintf("%s=%v", key, v), 60))
		}
	}
	if len(parts) == 0 {
		for k, v := range args {
			parts = append(parts, truncate(fmt.Sprintf("%s=%v", k, v), 60))
			break
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
