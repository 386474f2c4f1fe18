package safety

import (
	"fmt"
	"log"
	"os"
	"time"
)

// AuditLogger records every safety decision for later review.
type AuditLogger interface {
	LogVerdict(sessionID, fingerprint string, verdict Verdict)
}

// DefaultAuditLogger implements AuditLogger with a pipe-separated append-only
// log file.
type DefaultAuditLogger struct {
	logger *log.Logger
}

// NewAuditLogger creates a new audit logger writing to path. On open failure
// it falls back to stderr rather than dropping audit entries.
func NewAuditLogger(path string) AuditLogger {
	auditFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Warning: Could not open audit log: %v", err)
		return &DefaultAuditLogger{
			logger: log.New(os.Stderr, "", 0),
		}
	}

	return &DefaultAuditLogger{
		logger: log.New(auditFile, "", 0),
	}
}

// LogVerdict logs one safety check outcome.
func (a *DefaultAuditLogger) LogVerdict(sessionID, fingerprint string, verdict Verdict) {
	if a.logger == nil {
		return
	}

	status := "safe"
	detail := ""
	if !verdict.Safe {
		status = "rejected"
		detail = verdict.Describe()
	}

	logEntry := fmt.Sprintf("%s|session:%s|artifact:%s|%s|%s",
		time.Now().Format(time.RFC3339),
		sessionID,
		fingerprint,
		status,
		detail,
	)

	a.logger.Println(logEntry)
}

// NopAuditLogger discards all entries. Used when auditing is disabled.
type NopAuditLogger struct{}

// LogVerdict implements AuditLogger.
func (NopAuditLogger) LogVerdict(string, string, Verdict) {}
