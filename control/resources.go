package control

import (
	"context"
	"fmt"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/resource"
)

// StoreUncommittedResourceID records id as reserved for origin until a
// registration that uses it is stored. Uncommitted ids left behind by a
// crash are purged on the next Initialize.
func (c *Control) StoreUncommittedResourceID(ctx context.Context, id swstore.ResourceID, origin swstore.Origin) error {
	return c.runInitialized(ctx, "store_uncommitted_resource_id", func(ctx context.Context) error {
		if !id.Valid() {
			return fmt.Errorf("%w: invalid resource id %d", swstore.ErrFailed, id)
		}
		if err := c.db.WriteUncommittedResourceIDs(ctx, origin, []swstore.ResourceID{id}); err != nil {
			return err
		}
		c.tracker.MarkUncommitted([]swstore.ResourceID{id})
		return nil
	})
}

// DoomUncommittedResource purges an uncommitted resource.
func (c *Control) DoomUncommittedResource(ctx context.Context, id swstore.ResourceID) error {
	return c.DoomUncommittedResources(ctx, []swstore.ResourceID{id})
}

// DoomUncommittedResources purges uncommitted resources. Ids that are
// committed or were never stored as uncommitted fail with swstore.ErrFailed
// and nothing is purged.
func (c *Control) DoomUncommittedResources(ctx context.Context, ids []swstore.ResourceID) error {
	return c.runInitialized(ctx, "doom_uncommitted_resources", func(ctx context.Context) error {
		if len(ids) == 0 {
			return nil
		}
		if err := c.db.PurgeUncommittedResourceIDs(ctx, ids); err != nil {
			return err
		}
		c.tracker.MarkDoomed(ids)
		_, err := c.purgeResources(ctx, ids, "doomed")
		return err
	})
}

// GetUncommittedResourceIDs returns every uncommitted resource id.
func (c *Control) GetUncommittedResourceIDs(ctx context.Context) ([]swstore.ResourceID, error) {
	var ids []swstore.ResourceID
	err := c.runInitialized(ctx, "get_uncommitted_resource_ids", func(ctx context.Context) error {
		var err error
		ids, err = c.db.GetUncommittedResourceIDs(ctx)
		return err
	})
	return ids, err
}

// GetPurgeableResourceIDs returns every purgeable resource id, including
// ids still held by live references.
func (c *Control) GetPurgeableResourceIDs(ctx context.Context) ([]swstore.ResourceID, error) {
	var ids []swstore.ResourceID
	err := c.runInitialized(ctx, "get_purgeable_resource_ids", func(ctx context.Context) error {
		var err error
		ids, err = c.db.GetPurgeableResourceIDs(ctx, 0)
		return err
	})
	return ids, err
}

// CreateResourceWriter returns a writer for resource id. Writes run on the
// caller's goroutine.
func (c *Control) CreateResourceWriter(ctx context.Context, id swstore.ResourceID) (*resource.Writer, error) {
	var w *resource.Writer
	err := c.resourceTask(ctx, "create_resource_writer", id, func(blobs *resource.Store) {
		w = blobs.NewWriter(id)
	})
	return w, err
}

// CreateResourceReader returns a reader for resource id.
func (c *Control) CreateResourceReader(ctx context.Context, id swstore.ResourceID) (*resource.Reader, error) {
	var r *resource.Reader
	err := c.resourceTask(ctx, "create_resource_reader", id, func(blobs *resource.Store) {
		r = blobs.NewReader(id)
	})
	return r, err
}

// CreateResourceMetadataWriter returns a metadata writer for resource id.
func (c *Control) CreateResourceMetadataWriter(ctx context.Context, id swstore.ResourceID) (*resource.MetadataWriter, error) {
	var w *resource.MetadataWriter
	err := c.resourceTask(ctx, "create_resource_metadata_writer", id, func(blobs *resource.Store) {
		w = blobs.NewMetadataWriter(id)
	})
	return w, err
}

func (c *Control) resourceTask(ctx context.Context, name string, id swstore.ResourceID, fn func(*resource.Store)) error {
	return c.runInitialized(ctx, name, func(context.Context) error {
		if !id.Valid() {
			return fmt.Errorf("%w: invalid resource id %d", swstore.ErrFailed, id)
		}
		fn(c.blobs)
		return nil
	})
}
