package app

import (
	"tradeflow/internal/logger"
	"tradeflow/internal/session"
	"tradeflow/internal/store"
)

// auditSink 将会话审计记录写入审计日志，配置了存储时同时落库。
type auditSink struct {
	store store.AuditStore
}

func newAuditSink(s store.AuditStore) session.AuditSink {
	return auditSink{store: s}
}

func (a auditSink) Append(entry session.AuditEntry) error {
	fields := map[string]any{
		"seq":        entry.Seq,
		"symbol":     entry.Symbol,
		"generation": entry.Generation,
	}
	if entry.From != "" || entry.To != "" {
		fields["from"] = string(entry.From)
		fields["to"] = string(entry.To)
	}
	if entry.Note != "" {
		fields["note"] = entry.Note
	}
	for k, v := range entry.Fields {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	logger.Audit("session."+entry.Kind, fields)
	if a.store == nil {
		return nil
	}
	return a.store.Append(entry)
}
