package port

import (
	"context"

	"github.com/KallebyX/nexus-auth/internal/core/domain"
)

// AuditSink accepts structured activity events. Implementations must never
// block the caller or surface delivery failures into the request path; a
// failed append is logged and dropped.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent)
}
