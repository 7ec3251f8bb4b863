package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/cmdbook/internal/uuid"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditSetup             AuditEvent = "setup"
	AuditLoginSuccess      AuditEvent = "login_success"
	AuditLoginFailure      AuditEvent = "login_failure"
	AuditLoginFileSuccess  AuditEvent = "login_file_success"
	AuditPasswordChanged   AuditEvent = "password_changed"
	AuditAuthFileGenerated AuditEvent = "auth_file_generated"
	AuditResetKeyGenerated AuditEvent = "reset_key_generated"
	AuditPasswordReset     AuditEvent = "password_reset"
	AuditPasswordResetFail AuditEvent = "password_reset_failure"
	AuditLogout            AuditEvent = "logout"
	AuditSessionInvalid    AuditEvent = "session_invalid"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. Every entry carries a fresh event
// ID and, when the RequestID middleware ran, the request ID.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	evt := webhookEvent{
		Event:      string(event),
		EventID:    uuid.New(),
		RequestID:  middleware.GetReqID(r.Context()),
		RemoteAddr: r.RemoteAddr,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	baseAttrs := []slog.Attr{
		slog.String("event", evt.Event),
		slog.String("event_id", evt.EventID),
		slog.String("remote_addr", evt.RemoteAddr),
		slog.String("timestamp", evt.Timestamp),
	}
	if evt.RequestID != "" {
		baseAttrs = append(baseAttrs, slog.String("request_id", evt.RequestID))
	}
	for _, a := range attrs {
		if a.Key == "reason" {
			evt.Reason = a.Value.String()
		}
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.webhook != nil {
		al.webhook.enqueue(evt)
	}
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// forwardAlert sends a metrics alert to the webhook, if one is configured.
func (al *auditLogger) forwardAlert(alert AlertEvent) {
	if al.webhook == nil {
		return
	}
	al.webhook.enqueue(webhookEvent{
		Event:     "alert." + string(alert.Type),
		EventID:   uuid.New(),
		Count:     alert.Count,
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
	})
}

// logFailure logs a failed attempt with its reason code.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
