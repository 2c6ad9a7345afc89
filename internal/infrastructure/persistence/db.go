// Package persistence implements the optional §6.3 session-snapshot store:
// a session's chat history, processed-event watermark and pending wallet
// request, written on eviction and reloaded on reconnect, so a restart
// doesn't silently drop an in-flight conversation. Disabled by leaving
// Database.DSN empty.
package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/session"
	"github.com/aomi-labs/orchestrator/internal/domain/wallet"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/config"
	"github.com/aomi-labs/orchestrator/internal/infrastructure/persistence/models"
)

// NewDBConnection opens and migrates the session-snapshot database.
func NewDBConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.SessionSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// SnapshotStore persists session.Snapshot values keyed by session id.
type SnapshotStore struct {
	db *gorm.DB
}

// NewSnapshotStore returns a store backed by db.
func NewSnapshotStore(db *gorm.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save upserts a session's snapshot. Called on eviction (spec §6.3).
func (s *SnapshotStore) Save(snap session.Snapshot) error {
	historyJSON, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	pendingJSON := ""
	if snap.PendingWalletTx != nil {
		b, err := json.Marshal(snap.PendingWalletTx)
		if err != nil {
			return fmt.Errorf("marshal pending wallet tx: %w", err)
		}
		pendingJSON = string(b)
	}

	row := models.SessionSnapshot{
		SessionID:         snap.SessionID,
		History:           string(historyJSON),
		ProcessedEventIdx: snap.ProcessedEventIdx,
		PendingWalletTx:   pendingJSON,
		UpdatedAt:         time.Now().UTC(),
	}
	return s.db.Save(&row).Error
}

// RestoredSnapshot is the subset of session.Snapshot that survives a
// round trip through the store — it omits fields that are meaningless
// across a restart (IsProcessing, LastActivity, EventCount).
type RestoredSnapshot struct {
	History           []message.Message
	ProcessedEventIdx int
	PendingWalletTx   *wallet.Request
}

// Load returns a session's last-saved snapshot, or ok=false if none exists.
func (s *SnapshotStore) Load(sessionID string) (restored RestoredSnapshot, ok bool, err error) {
	var row models.SessionSnapshot
	res := s.db.First(&row, "session_id = ?", sessionID)
	if res.Error != nil {
		if res.Error == gorm.ErrRecordNotFound {
			return RestoredSnapshot{}, false, nil
		}
		return RestoredSnapshot{}, false, res.Error
	}

	if err := json.Unmarshal([]byte(row.History), &restored.History); err != nil {
		return RestoredSnapshot{}, false, fmt.Errorf("unmarshal history: %w", err)
	}
	restored.ProcessedEventIdx = row.ProcessedEventIdx
	if row.PendingWalletTx != "" {
		var req wallet.Request
		if err := json.Unmarshal([]byte(row.PendingWalletTx), &req); err != nil {
			return RestoredSnapshot{}, false, fmt.Errorf("unmarshal pending wallet tx: %w", err)
		}
		restored.PendingWalletTx = &req
	}
	return restored, true, nil
}

// Delete removes a session's saved snapshot, if any.
func (s *SnapshotStore) Delete(sessionID string) error {
	return s.db.Delete(&models.SessionSnapshot{}, "session_id = ?", sessionID).Error
}
