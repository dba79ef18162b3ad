package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeflow/internal/session"
	"tradeflow/internal/store"
	"tradeflow/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

var _ store.AuditStore = (*AuditStore)(nil)

type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(path string) (*AuditStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newAuditStore(db)
}

func NewAuditStoreFromDB(db *gorm.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newAuditStore(db)
}

func newAuditStore(db *gorm.DB) (*AuditStore, error) {
	if err := db.AutoMigrate(&model.AuditEntryModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Append(entry session.AuditEntry) error {
	row, err := toModel(entry)
	if err != nil {
		return err
	}
	return s.db.Create(&row).Error
}

func (s *AuditStore) List(ctx context.Context, symbol string, limit int) ([]session.AuditEntry, error) {
	q := s.db.WithContext(ctx).Model(&model.AuditEntryModel{})
	if symbol = strings.TrimSpace(symbol); symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var rows []model.AuditEntryModel
	if limit > 0 {
		// 先取最新 N 条，下面再翻转回日志顺序
		q = q.Order("id DESC").Limit(limit)
	} else {
		q = q.Order("id ASC")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}
	out := make([]session.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *AuditStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(entry session.AuditEntry) (model.AuditEntryModel, error) {
	row := model.AuditEntryModel{
		Seq:        entry.Seq,
		SessionID:  entry.SessionID,
		Symbol:     entry.Symbol,
		Generation: entry.Generation,
		Kind:       entry.Kind,
		FromPhase:  string(entry.From),
		ToPhase:    string(entry.To),
		Note:       entry.Note,
		Timestamp:  entry.At.UnixMilli(),
	}
	if len(entry.Fields) > 0 {
		raw, err := json.Marshal(entry.Fields)
		if err != nil {
			return row, fmt.Errorf("marshal audit fields: %w", err)
		}
		row.Fields = datatypes.JSON(raw)
	}
	return row, nil
}

func fromModel(row model.AuditEntryModel) (session.AuditEntry, error) {
	entry := session.AuditEntry{
		Seq:        row.Seq,
		SessionID:  row.SessionID,
		Symbol:     row.Symbol,
		Generation: row.Generation,
		Kind:       row.Kind,
		At:         time.UnixMilli(row.Timestamp).UTC(),
		From:       session.Phase(row.FromPhase),
		To:         session.Phase(row.ToPhase),
		Note:       row.Note,
	}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &entry.Fields); err != nil {
			return entry, fmt.Errorf("decode audit fields for seq %d: %w", row.Seq, err)
		}
	}
	return entry, nil
}
