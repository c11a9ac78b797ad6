package control

import (
	"context"
	"sync"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/telemetry"
)

// LiveVersionReference keeps the resources of a version readable while held.
// Resources of a deleted version are purged once every reference is released.
type LiveVersionReference struct {
	control *Control
	version swstore.VersionID
	once    sync.Once
}

// Version returns the referenced version id.
func (r *LiveVersionReference) Version() swstore.VersionID { return r.version }

// Release drops the reference. It is safe to call more than once and does
// not wait for a resulting purge; use Control.RunPendingTasks to wait.
func (r *LiveVersionReference) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		c := r.control
		v := r.version
		err := c.post("release_version", func(ctx context.Context) error {
			if c.state != stateInitialized {
				return nil
			}
			purge := c.tracker.Release(v)
			telemetry.UpdateLiveVersions(ctx, c.tracker.LiveVersions())
			if len(purge) == 0 {
				return nil
			}
			c.logger.Debug("last reference released", "version_id", v, "resources", len(purge))
			_, err := c.purgeResources(ctx, purge, "version_released")
			return err
		})
		if err != nil {
			c.logger.Debug("reference released after shutdown", "version_id", v)
		}
	})
}

// newReference runs inside a task.
func (c *Control) newReference(ctx context.Context, v swstore.VersionID) *LiveVersionReference {
	c.tracker.AddRef(v)
	telemetry.UpdateLiveVersions(ctx, c.tracker.LiveVersions())
	return &LiveVersionReference{control: c, version: v}
}
