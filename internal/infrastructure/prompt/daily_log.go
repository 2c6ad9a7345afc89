package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// readDailyLogs reads today's and yesterday's ~/.ngoclaw/memory/YYYY-MM-DD.md
// entries and returns them combined, truncated to fit the system prompt
// budget. Returns "" if neither exists.
//
// Grounded on infrastructure/tool/memory_tool.go's ReadDailyLogs, inlined
// here rather than imported since this is now its only caller.
func readDailyLogs() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	dir := filepath.Join(home, ".ngoclaw", "memory")
	now := time.Now()

	var parts []string
	for _, offset := range []int{-1, 0} {
		day := now.AddDate(0, 0, offset)
		path := filepath.Join(dir, day.Format("2006-01-02")+".md")

		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}

		content := strings.TrimSpace(string(data))
		if len(content) > 2000 {
			content = "...\n" + content[len(content)-2000:]
		}

		label := day.Format("2006-01-02")
		if offset == 0 {
			label += " (today)"
		} else {
			label += " (yesterday)"
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", label, content))
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n")
}
