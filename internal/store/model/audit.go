package model

import "gorm.io/datatypes"

// AuditEntryModel 对应 'session_audit_log' 表。
type AuditEntryModel struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Seq        uint64         `gorm:"column:seq;index"`
	SessionID  string         `gorm:"column:session_id;index"`
	Symbol     string         `gorm:"column:symbol;index"`
	Generation int            `gorm:"column:generation"`
	Kind       string         `gorm:"column:kind"`
	FromPhase  string         `gorm:"column:from_phase"`
	ToPhase    string         `gorm:"column:to_phase"`
	Note       string         `gorm:"column:note"`
	Fields     datatypes.JSON `gorm:"column:fields"`
	Timestamp  int64          `gorm:"column:timestamp"` // unix millis
}

func (AuditEntryModel) TableName() string { return "session_audit_log" }
