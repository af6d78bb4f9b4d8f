package sync

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notifier receives entity-change signals for downstream alert
// detection. The delivery side is out of scope here; LogNotifier is the
// in-tree implementation.
type Notifier interface {
	EntityChanged(ctx context.Context, integrationID, entityType, externalID string, created bool)
	TicketRefsResolved(ctx context.Context, integrationID string, refs []string)
}

type LogNotifier struct{}

func (LogNotifier) EntityChanged(ctx context.Context, integrationID, entityType, externalID string, created bool) {
	log.Debug().Str("integration_id", integrationID).Str("entity_type", entityType).
		Str("external_id", externalID).Bool("created", created).Msg("entity changed")
}

func (LogNotifier) TicketRefsResolved(ctx context.Context, integrationID string, refs []string) {
	log.Debug().Str("integration_id", integrationID).Strs("refs", refs).Msg("ticket references resolved")
}
