package audit

import (
	"context"

	"github.com/propfolio/gatekeeper/internal/domain/models"
	"github.com/propfolio/gatekeeper/internal/domain/service"
)

// noopAuditService discards all events. Used when the audit stream is
// disabled.
type noopAuditService struct{}

// NewNoopAuditService returns an AuditService that discards everything.
func NewNoopAuditService() service.AuditService {
	return noopAuditService{}
}

func (noopAuditService) LogEvent(context.Context, models.AuditEvent) error { return nil }
func (noopAuditService) Close() error                                      { return nil }
