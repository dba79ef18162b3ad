package store

import (
	"context"

	"tradeflow/internal/session"
)

// AuditStore 持久化会话审计记录。两种后端同时实现 session.AuditSink，
// registry 可直接写入。
type AuditStore interface {
	Append(entry session.AuditEntry) error
	// List 按时间顺序返回 symbol 最近的 limit 条记录。symbol 为空时返回全部会话，
	// limit <= 0 表示不限制。
	List(ctx context.Context, symbol string, limit int) ([]session.AuditEntry, error)
	Close() error
}

// Nop 丢弃所有记录，store.driver 为 none 时使用。
type Nop struct{}

func (Nop) Append(session.AuditEntry) error { return nil }

func (Nop) List(context.Context, string, int) ([]session.AuditEntry, error) { return nil, nil }

func (Nop) Close() error { return nil }
