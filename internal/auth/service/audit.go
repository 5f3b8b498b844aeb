package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowcanvas/authcore/internal/auth/domain"
	"github.com/flowcanvas/authcore/pkg/slogx"
)

// Auditor receives one structured event per security-relevant operation.
// Implementations must not block for long; they sit on the request path.
type Auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent)
}

// SlogAuditor writes audit events through the context logger, so request
// correlation attributes ride along for free.
type SlogAuditor struct{}

// NewSlogAuditor returns an Auditor backed by slog.
func NewSlogAuditor() *SlogAuditor { return &SlogAuditor{} }

// Record implements Auditor. Only identifiers are logged, never token
// material.
func (*SlogAuditor) Record(ctx context.Context, ev domain.AuditEvent) {
	slogx.FromContext(ctx).Info("audit",
		slog.String("action", ev.Action),
		slog.String("subject", ev.Subject),
		slog.String("jti", ev.TokenID),
		slog.String("chain_id", ev.ChainID),
		slog.String("outcome", ev.Outcome),
		slog.String("reason", ev.Reason),
		slog.Time("at", ev.At),
	)
}

// emit sends an event to the auditor if one is configured. A nil auditor
// means auditing is off, which the tests rely on.
func emit(ctx context.Context, a Auditor, ev domain.AuditEvent) {
	if a == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	a.Record(ctx, ev)
}
