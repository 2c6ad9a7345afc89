// Package models defines the gorm-mapped row types persisted by
// internal/infrastructure/persistence.
package models

import "time"

// SessionSnapshot is the optional §6.3 durable record of one session: its
// chat history, processed-event watermark and any pending wallet request,
// each stored as a JSON column rather than normalized tables — a session's
// history is read back whole on reconnect, never queried piecemeal.
//
// Grounded on the teacher's gorm_message_repository.go row-per-message
// shape, collapsed here to one row per session since SessionState already
// owns an in-memory append-only history and this table exists only to
// survive a process restart, not to serve history queries.
type SessionSnapshot struct {
	SessionID         string `gorm:"primaryKey"`
	History           string `gorm:"type:text"` // JSON-encoded []message.Message
	ProcessedEventIdx int
	PendingWalletTx   string `gorm:"type:text"` // JSON-encoded *wallet.Request, empty if none
	UpdatedAt         time.Time
}

// TableName pins the table name so it doesn't pluralize to
// "session_snapshots" inconsistently across dialects.
func (SessionSnapshot) TableName() string { return "session_snapshots" }
