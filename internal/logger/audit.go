package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	auditMu  sync.Mutex
	auditLog *log.Logger
)

// SetAuditWriter 设置决策审计日志输出；nil 关闭审计。
func SetAuditWriter(w io.Writer) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if w == nil {
		auditLog = nil
		return
	}
	auditLog = log.New(w, "", log.LstdFlags)
}

// AuditSection 是审计块中的一段。
type AuditSection struct {
	Title string
	Body  string
}

// AuditEnabled 报告是否配置了审计输出。
func AuditEnabled() bool {
	auditMu.Lock()
	defer auditMu.Unlock()
	return auditLog != nil
}

// LogAudit 以块格式写入一次决策的检查链。
func LogAudit(kind, instrument, action string, sections []AuditSection) {
	auditMu.Lock()
	l := auditLog
	auditMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[AUDIT]")
	for _, tag := range []string{kind, instrument, action} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}
