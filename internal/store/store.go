// Package store persists the reconciliation controller's managed state in
// SQLite via gorm. The state is small and rewritten wholesale, so the schema
// is a single table keyed by venue ticket with the remembered intent as JSON.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/datatypes"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradecopy/internal/logger"
	"tradecopy/internal/manager"
	"tradecopy/internal/signal"
)

type ticketModel struct {
	Ticket             int64          `gorm:"column:ticket;primaryKey"`
	Login              int64          `gorm:"column:account_login;index"`
	GroupID            string         `gorm:"column:group_id;index"`
	Signal             datatypes.JSON `gorm:"column:signal"`
	OriginalVolume     float64        `gorm:"column:original_volume"`
	ClosedTargets      datatypes.JSON `gorm:"column:closed_targets"`
	Secured            bool           `gorm:"column:is_secured"`
	PendingCloseVolume float64        `gorm:"column:pending_close_volume"`
	UpdatedAtUnix      int64          `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (ticketModel) TableName() string { return "managed_tickets" }

// TicketStore implements manager.Store on gorm + SQLite.
type TicketStore struct {
	db *gorm.DB
}

func Open(path string) (*TicketStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating directory failed: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ticketModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for HTTP inspection reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &TicketStore{db: db}, nil
}

// Load reads every persisted ticket. A row that fails to decode is logged
// and skipped rather than aborting recovery; one corrupt record must not
// take out the rest of the remembered state.
func (s *TicketStore) Load(ctx context.Context) (map[int64]*manager.Ticket, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store: not initialized")
	}
	var models []ticketModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[int64]*manager.Ticket, len(models))
	for _, m := range models {
		t, err := modelToTicket(m)
		if err != nil {
			logger.Warnf("store: skipping unreadable ticket %d: %v", m.Ticket, err)
			continue
		}
		out[t.Ticket] = t
	}
	return out, nil
}

// ReplaceAll atomically swaps the persisted state for the given one.
func (s *TicketStore) ReplaceAll(ctx context.Context, state map[int64]*manager.Ticket) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	models := make([]ticketModel, 0, len(state))
	for _, t := range state {
		m, err := ticketToModel(t)
		if err != nil {
			return fmt.Errorf("store: encoding ticket %d failed: %w", t.Ticket, err)
		}
		models = append(models, m)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ticketModel{}).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.Create(&models).Error
	})
}

func (s *TicketStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ manager.Store = (*TicketStore)(nil)

func ticketToModel(t *manager.Ticket) (ticketModel, error) {
	sigJSON, err := json.Marshal(t.Signal)
	if err != nil {
		return ticketModel{}, err
	}
	closed := t.ClosedTargets
	if closed == nil {
		closed = []int{}
	}
	closedJSON, err := json.Marshal(closed)
	if err != nil {
		return ticketModel{}, err
	}
	return ticketModel{
		Ticket:             t.Ticket,
		Login:              t.Login,
		GroupID:            t.GroupID,
		Signal:             datatypes.JSON(sigJSON),
		OriginalVolume:     t.OriginalVolume,
		ClosedTargets:      datatypes.JSON(closedJSON),
		Secured:            t.Secured,
		PendingCloseVolume: t.PendingCloseVolume,
	}, nil
}

func modelToTicket(m ticketModel) (*manager.Ticket, error) {
	var sig signal.Signal
	if err := json.Unmarshal(m.Signal, &sig); err != nil {
		return nil, fmt.Errorf("signal column: %w", err)
	}
	closed := []int{}
	if len(m.ClosedTargets) > 0 {
		if err := json.Unmarshal(m.ClosedTargets, &closed); err != nil {
			return nil, fmt.Errorf("closed_targets column: %w", err)
		}
	}
	return &manager.Ticket{
		Ticket:             m.Ticket,
		Login:              m.Login,
		Signal:             sig,
		OriginalVolume:     m.OriginalVolume,
		ClosedTargets:      closed,
		Secured:            m.Secured,
		GroupID:            m.GroupID,
		PendingCloseVolume: m.PendingCloseVolume,
	}, nil
}
