package control

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/store/regdb"
)

// FindResult is a registration found in storage. Reference keeps the
// version's resources readable; callers must Release it.
type FindResult struct {
	Registration swstore.RegistrationData
	Resources    []swstore.ResourceRecord
	Reference    *LiveVersionReference
}

func (c *Control) findResult(ctx context.Context, reg *regdb.Registration) *FindResult {
	return &FindResult{
		Registration: reg.Data,
		Resources:    reg.Resources,
		Reference:    c.newReference(ctx, reg.Data.VersionID),
	}
}

// FindRegistrationForClientURL returns the registration whose scope is the
// longest prefix of clientURL.
func (c *Control) FindRegistrationForClientURL(ctx context.Context, clientURL string) (*FindResult, error) {
	var res *FindResult
	err := c.runInitialized(ctx, "find_registration_for_client_url", func(ctx context.Context) error {
		reg, err := c.db.FindRegistrationForClientURL(ctx, clientURL)
		if err != nil {
			return err
		}
		res = c.findResult(ctx, reg)
		return nil
	})
	return res, err
}

// FindRegistrationForScope returns the registration with exactly this scope.
func (c *Control) FindRegistrationForScope(ctx context.Context, scope string) (*FindResult, error) {
	var res *FindResult
	err := c.runInitialized(ctx, "find_registration_for_scope", func(ctx context.Context) error {
		reg, err := c.db.FindRegistrationForScope(ctx, scope)
		if err != nil {
			return err
		}
		res = c.findResult(ctx, reg)
		return nil
	})
	return res, err
}

// FindRegistrationForID returns registration id stored under origin.
func (c *Control) FindRegistrationForID(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin) (*FindResult, error) {
	var res *FindResult
	err := c.runInitialized(ctx, "find_registration_for_id", func(ctx context.Context) error {
		reg, err := c.db.FindRegistrationForID(ctx, id, origin)
		if err != nil {
			return err
		}
		res = c.findResult(ctx, reg)
		return nil
	})
	return res, err
}

// FindRegistrationForIDOnly returns registration id regardless of origin.
func (c *Control) FindRegistrationForIDOnly(ctx context.Context, id swstore.RegistrationID) (*FindResult, error) {
	return c.FindRegistrationForID(ctx, id, "")
}

// GetRegistrationsForOrigin returns every registration of origin, each with
// its own live reference.
func (c *Control) GetRegistrationsForOrigin(ctx context.Context, origin swstore.Origin) ([]*FindResult, error) {
	var results []*FindResult
	err := c.runInitialized(ctx, "get_registrations_for_origin", func(ctx context.Context) error {
		regs, err := c.db.GetRegistrationsForOrigin(ctx, origin)
		if err != nil {
			return err
		}
		results = make([]*FindResult, 0, len(regs))
		for i := range regs {
			results = append(results, c.findResult(ctx, &regs[i]))
		}
		return nil
	})
	return results, err
}

// GetAllRegistrations returns every stored registration. No references are
// taken.
func (c *Control) GetAllRegistrations(ctx context.Context) ([]swstore.RegistrationData, error) {
	var regs []swstore.RegistrationData
	err := c.runInitialized(ctx, "get_all_registrations", func(ctx context.Context) error {
		var err error
		regs, err = c.db.GetAllRegistrations(ctx)
		return err
	})
	return regs, err
}

// GetRegisteredOrigins returns the origins with at least one registration.
func (c *Control) GetRegisteredOrigins(ctx context.Context) ([]swstore.Origin, error) {
	var origins []swstore.Origin
	err := c.runInitialized(ctx, "get_registered_origins", func(ctx context.Context) error {
		var err error
		origins, err = c.db.GetRegisteredOrigins(ctx)
		return err
	})
	return origins, err
}

// GetUsageForOrigin returns the total resource bytes of origin's
// registrations.
func (c *Control) GetUsageForOrigin(ctx context.Context, origin swstore.Origin) (int64, error) {
	var usage int64
	err := c.runInitialized(ctx, "get_usage_for_origin", func(ctx context.Context) error {
		var err error
		usage, err = c.db.GetUsageForOrigin(ctx, origin)
		return err
	})
	return usage, err
}

// StoreRegistration writes data and its resources, replacing any previous
// version of the registration. Resources of the replaced version that the
// new version does not reuse are purged once that version is unreferenced.
// Resources that were doomed or purged are rejected with swstore.ErrFailed.
func (c *Control) StoreRegistration(ctx context.Context, data swstore.RegistrationData, resources []swstore.ResourceRecord) error {
	return c.runInitialized(ctx, "store_registration", func(ctx context.Context) error {
		if err := c.tracker.CheckCommit(swstore.ResourceIDs(resources)); err != nil {
			return fmt.Errorf("%w: %w", swstore.ErrFailed, err)
		}
		deleted, err := c.db.WriteRegistration(ctx, data, resources)
		if err != nil {
			return err
		}
		for _, dv := range deleted {
			c.releaseDeletedVersion(ctx, dv)
		}
		c.tracker.Commit(data.VersionID, swstore.ResourceIDs(resources))
		c.logger.Debug("registration stored",
			"registration_id", data.RegistrationID,
			"version_id", data.VersionID,
			"resources", len(resources),
			"replaced", len(deleted),
		)
		return nil
	})
}

// DeleteRegistration deletes registration id of origin and its user data.
// The returned state reports whether origin has registrations left.
func (c *Control) DeleteRegistration(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin) (swstore.OriginState, error) {
	state := swstore.OriginStateKeep
	err := c.runInitialized(ctx, "delete_registration", func(ctx context.Context) error {
		dv, st, err := c.db.DeleteRegistration(ctx, id, origin)
		if err != nil {
			return err
		}
		state = st
		c.releaseDeletedVersion(ctx, *dv)
		c.logger.Debug("registration deleted", "registration_id", id, "version_id", dv.VersionID, "origin_state", st)
		return nil
	})
	return state, err
}

// releaseDeletedVersion runs inside a task. The version's resources are
// purged now when no reference holds it, else on the last release.
func (c *Control) releaseDeletedVersion(ctx context.Context, dv regdb.DeletedVersion) {
	purge := c.tracker.MarkDeleted(dv.VersionID, dv.PurgeableResourceIDs)
	if len(purge) == 0 {
		return
	}
	if n, err := c.purgeResources(ctx, purge, "version_deleted"); err != nil {
		c.logger.Warn("purging deleted version resources",
			"version_id", dv.VersionID,
			"purged", n,
			"pending", len(purge)-n,
			"error", err,
		)
	}
}

// UpdateToActiveState marks the registration's stored version active.
func (c *Control) UpdateToActiveState(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin) error {
	return c.runInitialized(ctx, "update_to_active_state", func(ctx context.Context) error {
		return c.db.UpdateToActiveState(ctx, id, origin)
	})
}

func (c *Control) UpdateLastUpdateCheckTime(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin, t time.Time) error {
	return c.runInitialized(ctx, "update_last_update_check_time", func(ctx context.Context) error {
		return c.db.UpdateLastUpdateCheckTime(ctx, id, origin, t)
	})
}

func (c *Control) UpdateNavigationPreloadEnabled(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin, enabled bool) error {
	return c.runInitialized(ctx, "update_navigation_preload_enabled", func(ctx context.Context) error {
		return c.db.UpdateNavigationPreloadEnabled(ctx, id, origin, enabled)
	})
}

func (c *Control) UpdateNavigationPreloadHeader(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin, header string) error {
	return c.runInitialized(ctx, "update_navigation_preload_header", func(ctx context.Context) error {
		return c.db.UpdateNavigationPreloadHeader(ctx, id, origin, header)
	})
}

// GetNewRegistrationID allocates a registration id.
func (c *Control) GetNewRegistrationID(ctx context.Context) (swstore.RegistrationID, error) {
	id := swstore.InvalidRegistrationID
	err := c.runInitialized(ctx, "get_new_registration_id", func(ctx context.Context) error {
		var err error
		id, err = c.db.NextRegistrationID(ctx)
		return err
	})
	return id, err
}

// GetNewVersionID allocates a version id and returns a reference to it.
func (c *Control) GetNewVersionID(ctx context.Context) (swstore.VersionID, *LiveVersionReference, error) {
	id := swstore.InvalidVersionID
	var ref *LiveVersionReference
	err := c.runInitialized(ctx, "get_new_version_id", func(ctx context.Context) error {
		var err error
		id, err = c.db.NextVersionID(ctx)
		if err != nil {
			return err
		}
		ref = c.newReference(ctx, id)
		return nil
	})
	if err != nil {
		return swstore.InvalidVersionID, nil, err
	}
	return id, ref, nil
}

// GetNewResourceID allocates a resource id.
func (c *Control) GetNewResourceID(ctx context.Context) (swstore.ResourceID, error) {
	id := swstore.InvalidResourceID
	err := c.runInitialized(ctx, "get_new_resource_id", func(ctx context.Context) error {
		var err error
		id, err = c.db.NextResourceID(ctx)
		return err
	})
	return id, err
}

// ApplyPolicyUpdates records which origins are purged on the next start.
func (c *Control) ApplyPolicyUpdates(ctx context.Context, updates []swstore.PolicyUpdate) error {
	return c.runInitialized(ctx, "apply_policy_updates", func(ctx context.Context) error {
		return c.db.ApplyPolicyUpdates(ctx, updates)
	})
}
