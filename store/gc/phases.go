package gc

import (
	"context"
	"fmt"
)

// phasePendingPurges purges resources left purgeable by an earlier failure.
// Resources still held by a live version are never offered by the purger.
func (m *Manager) phasePendingPurges(ctx context.Context, result *Result) {
	m.logger.Debug("phase: pending purges")

	ids, err := m.purger.PurgeableResourceIDs(ctx, m.config.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("get purgeable resources: %v", err))
		m.logger.Error("failed to get purgeable resources", "error", err)
		return
	}
	if len(ids) == 0 || ctx.Err() != nil {
		return
	}

	n, err := m.purger.PurgeResources(ctx, ids)
	result.PendingPurged += n
	result.PendingSkipped += len(ids) - n
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("purge pending resources: %v", err))
		m.logger.Error("failed to purge pending resources", "purged", n, "requested", len(ids), "error", err)
	}
}

// phaseOrphans purges blobs that no database record knows about.
func (m *Manager) phaseOrphans(ctx context.Context, result *Result) {
	m.logger.Debug("phase: orphan resources")

	ids, err := m.purger.OrphanResourceIDs(ctx, m.config.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("get orphan resources: %v", err))
		m.logger.Error("failed to get orphan resources", "error", err)
		return
	}
	if len(ids) == 0 || ctx.Err() != nil {
		return
	}

	n, err := m.purger.PurgeResources(ctx, ids)
	result.OrphansPurged += n
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("purge orphan resources: %v", err))
		m.logger.Error("failed to purge orphan resources", "purged", n, "requested", len(ids), "error", err)
		return
	}
	m.logger.Debug("purged orphan resources", "count", n)
}
