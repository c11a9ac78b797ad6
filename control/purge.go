package control

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/store/lifecycle"
	"github.com/wolfeidau/swstore/telemetry"
)

// purgeResources runs inside a task. It deletes the blobs of ids, then
// clears their purgeable records. Ids whose blobs could not be deleted stay
// purgeable. It returns the number of ids purged.
func (c *Control) purgeResources(ctx context.Context, ids []swstore.ResourceID, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var (
		mu     sync.Mutex
		purged = make([]swstore.ResourceID, 0, len(ids))
		g      errgroup.Group
	)
	g.SetLimit(c.cfg.PurgeConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.blobs.Doom(ctx, id); err != nil {
				c.logger.Warn("failed to delete resource", "resource_id", id, "error", err)
				return err
			}
			mu.Lock()
			purged = append(purged, id)
			mu.Unlock()
			return nil
		})
	}
	doomErr := g.Wait()

	slices.Sort(purged)
	if len(purged) > 0 {
		if err := c.db.ClearPurgeableResourceIDs(ctx, purged); err != nil {
			return 0, err
		}
		c.tracker.MarkPurged(slices.DeleteFunc(slices.Clone(purged), func(id swstore.ResourceID) bool {
			return c.tracker.State(id) == lifecycle.StatePurged
		}))
	}
	telemetry.RecordPurge(ctx, reason, len(purged))
	c.logger.Debug("resources purged", "reason", reason, "purged", len(purged), "requested", len(ids))
	return len(purged), doomErr
}

// PurgeResources purges ids that no live or uncommitted version holds and
// returns the number purged. The sweeper uses it to retry failed purges and
// to remove orphaned blobs.
func (c *Control) PurgeResources(ctx context.Context, ids []swstore.ResourceID) (int, error) {
	var n int
	err := c.runInitialized(ctx, "purge_resources", func(ctx context.Context) error {
		free := slices.DeleteFunc(slices.Clone(ids), c.tracker.Held)
		var err error
		n, err = c.purgeResources(ctx, free, "sweep")
		return err
	})
	return n, err
}

// PurgeableResourceIDs returns up to limit purgeable ids that no live
// version holds. A limit of zero means no limit.
func (c *Control) PurgeableResourceIDs(ctx context.Context, limit int) ([]swstore.ResourceID, error) {
	var ids []swstore.ResourceID
	err := c.runInitialized(ctx, "purgeable_resource_ids", func(ctx context.Context) error {
		all, err := c.db.GetPurgeableResourceIDs(ctx, 0)
		if err != nil {
			return err
		}
		for _, id := range all {
			if c.tracker.Held(id) {
				continue
			}
			ids = append(ids, id)
			if limit > 0 && len(ids) == limit {
				break
			}
		}
		return nil
	})
	return ids, err
}

// OrphanResourceIDs returns up to limit ids that have blobs in the resource
// store but no database record, and were allocated before this session. A
// limit of zero means no limit.
func (c *Control) OrphanResourceIDs(ctx context.Context, limit int) ([]swstore.ResourceID, error) {
	var orphans []swstore.ResourceID
	err := c.runInitialized(ctx, "orphan_resource_ids", func(ctx context.Context) error {
		ids, err := c.blobs.ResourceIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if id >= c.sessionResourceID || c.tracker.Held(id) {
				continue
			}
			known, err := c.db.IsKnownResource(ctx, id)
			if err != nil {
				return err
			}
			if known {
				continue
			}
			orphans = append(orphans, id)
			if limit > 0 && len(orphans) == limit {
				break
			}
		}
		return nil
	})
	return orphans, err
}

// PerformStorageCleanup purges every purgeable resource no live version
// holds and returns the number purged.
func (c *Control) PerformStorageCleanup(ctx context.Context) (int, error) {
	var n int
	err := c.runInitialized(ctx, "perform_storage_cleanup", func(ctx context.Context) error {
		ids, err := c.db.GetPurgeableResourceIDs(ctx, 0)
		if err != nil {
			return err
		}
		n, err = c.purgeResources(ctx, slices.DeleteFunc(ids, c.tracker.Held), "cleanup")
		return err
	})
	return n, err
}
