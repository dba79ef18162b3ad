package logger

import (
	"encoding/json"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
)

var (
	auditMu  sync.Mutex
	auditLog *log.Logger
)

// SetAuditWriter routes audit records to a dedicated sink. With a writer set
// the main log only carries them at debug level; a nil writer sends them to
// the main log at info level instead.
func SetAuditWriter(w io.Writer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if w == nil {
		auditLog = nil
		return
	}
	auditLog = log.New(w, "", log.LstdFlags|log.LUTC)
}

// Audit emits one audit record. Fields are rendered in key order so the
// dedicated audit file stays diffable.
func Audit(kind string, fields map[string]any) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "event"
	}
	line := renderAudit(kind, fields)

	auditMu.Lock()
	l := auditLog
	auditMu.Unlock()
	if l == nil {
		Infof("%s", line)
		return
	}
	l.Print(line)
	Debugf("%s", line)
}

func renderAudit(kind string, fields map[string]any) string {
	var b strings.Builder
	b.WriteString("[AUDIT] ")
	b.WriteString(kind)
	if len(fields) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(renderValue(fields[k]))
	}
	return b.String()
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, " \t\"=") {
			raw, _ := json.Marshal(val)
			return string(raw)
		}
		return val
	case nil:
		return "-"
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "?"
		}
		return string(raw)
	}
}
