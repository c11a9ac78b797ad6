package regdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/swstore"
)

// markerValue is stored for set-membership buckets.
var markerValue = []byte{1}

// FindRegistrationForClientURL returns the registration with the longest
// scope that is a prefix of clientURL, within the URL's origin.
func (d *DB) FindRegistrationForClientURL(_ context.Context, clientURL string) (*Registration, error) {
	origin, err := swstore.OriginOf(clientURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	var reg *Registration
	err = d.view(func(tx *bbolt.Tx) error {
		prefix := originPrefix(origin)
		var best []byte
		c := tx.Bucket(bucketRegistrations).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			scope := string(k[len(prefix):])
			if strings.HasPrefix(clientURL, scope) && len(k) > len(best) {
				best = append(best[:0], k...)
			}
		}
		if best == nil {
			return ErrNotFound
		}

		var err error
		reg, err = loadRegistration(tx, best)
		return err
	})
	return reg, err
}

// FindRegistrationForScope returns the registration with exactly scope.
func (d *DB) FindRegistrationForScope(_ context.Context, scope string) (*Registration, error) {
	origin, err := swstore.OriginOf(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	var reg *Registration
	err = d.view(func(tx *bbolt.Tx) error {
		var err error
		reg, err = loadRegistration(tx, makeRegistrationKey(origin, scope))
		return err
	})
	return reg, err
}

// FindRegistrationForID returns the registration with id. A non-empty
// origin must match the registration's origin.
func (d *DB) FindRegistrationForID(_ context.Context, id swstore.RegistrationID, origin swstore.Origin) (*Registration, error) {
	var reg *Registration
	err := d.view(func(tx *bbolt.Tx) error {
		key, err := registrationKeyForOrigin(tx, id, origin)
		if err != nil {
			return err
		}
		reg, err = loadRegistration(tx, key)
		return err
	})
	return reg, err
}

// GetRegistrationsForOrigin returns every registration of origin ordered by
// scope. An unknown origin yields an empty result.
func (d *DB) GetRegistrationsForOrigin(_ context.Context, origin swstore.Origin) ([]Registration, error) {
	var regs []Registration
	err := d.view(func(tx *bbolt.Tx) error {
		prefix := originPrefix(origin)
		c := tx.Bucket(bucketRegistrations).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			reg, err := loadRegistration(tx, k)
			if err != nil {
				return err
			}
			regs = append(regs, *reg)
		}
		return nil
	})
	return regs, err
}

// GetAllRegistrations returns the data of every registration ordered by
// origin and scope.
func (d *DB) GetAllRegistrations(_ context.Context) ([]swstore.RegistrationData, error) {
	var all []swstore.RegistrationData
	err := d.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRegistrations).ForEach(func(k, _ []byte) error {
			rec, err := getRegistrationRecord(tx, k)
			if err != nil {
				return err
			}
			all = append(all, rec.Data)
			return nil
		})
	})
	return all, err
}

// GetRegisteredOrigins returns every origin with at least one registration.
func (d *DB) GetRegisteredOrigins(_ context.Context) ([]swstore.Origin, error) {
	var origins []swstore.Origin
	err := d.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRegistrations).ForEach(func(k, _ []byte) error {
			origin, _ := parseRegistrationKey(k)
			if len(origins) == 0 || origins[len(origins)-1] != origin {
				origins = append(origins, origin)
			}
			return nil
		})
	})
	return origins, err
}

// GetUsageForOrigin returns the total resource size of origin's registrations.
func (d *DB) GetUsageForOrigin(ctx context.Context, origin swstore.Origin) (int64, error) {
	regs, err := d.GetRegistrationsForOrigin(ctx, origin)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, reg := range regs {
		total += reg.Data.ResourcesTotalSizeBytes
	}
	return total, nil
}

// WriteRegistration stores a registration and its resources in one
// transaction. A registration with the same id or the same scope is
// replaced. The replaced version's resources that are not reused become
// purgeable, and user data is removed for a replaced registration with a
// different id. The resources' uncommitted markers are cleared. Resources
// already marked purgeable are rejected.
func (d *DB) WriteRegistration(_ context.Context, data swstore.RegistrationData, resources []swstore.ResourceRecord) ([]DeletedVersion, error) {
	if err := data.Validate(resources); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	origin, err := data.Origin()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	data.ResourcesTotalSizeBytes = swstore.TotalSize(resources)
	ids := swstore.ResourceIDs(resources)
	reused := make(map[swstore.ResourceID]struct{}, len(ids))
	for _, id := range ids {
		reused[id] = struct{}{}
	}
	key := makeRegistrationKey(origin, data.Scope)

	var deleted []DeletedVersion
	err = d.update(func(tx *bbolt.Tx) error {
		deleted = nil

		purgeable := tx.Bucket(bucketPurgeable)
		for _, id := range ids {
			if purgeable.Get(encodeID(int64(id))) != nil {
				return fmt.Errorf("%w: resource %d is purgeable", ErrInvalidArgument, id)
			}
		}

		oldKey, err := registrationKeyForID(tx, data.RegistrationID)
		switch {
		case err == nil:
			dv, err := deleteRegistrationTx(tx, oldKey, reused, false)
			if err != nil {
				return err
			}
			deleted = append(deleted, *dv)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if tx.Bucket(bucketRegistrations).Get(key) != nil {
			dv, err := deleteRegistrationTx(tx, key, reused, true)
			if err != nil {
				return err
			}
			deleted = append(deleted, *dv)
		}

		uncommitted := tx.Bucket(bucketUncommitted)
		for _, r := range resources {
			owner, ok, err := resourceOwner(tx, r.ResourceID)
			if err != nil {
				return err
			}
			if ok {
				return fmt.Errorf("%w: resource %d belongs to registration %d", ErrInvalidArgument, r.ResourceID, owner)
			}
			if err := putResourceEntry(tx, data.RegistrationID, r); err != nil {
				return err
			}
			if err := uncommitted.Delete(encodeID(int64(r.ResourceID))); err != nil {
				return fmt.Errorf("clearing uncommitted resource %d: %w", r.ResourceID, err)
			}
		}

		return putRegistrationRecord(tx, key, &registrationRecord{Data: data, ResourceIDs: ids})
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("registration written",
		"registration_id", data.RegistrationID,
		"version_id", data.VersionID,
		"scope", data.Scope,
		"resources", len(resources),
		"replaced", len(deleted),
	)
	return deleted, nil
}

// DeleteRegistration removes a registration, its resource records and its
// user data. Its resources become purgeable. The returned state tells
// whether origin has registrations left. A non-empty origin must match.
func (d *DB) DeleteRegistration(_ context.Context, id swstore.RegistrationID, origin swstore.Origin) (*DeletedVersion, swstore.OriginState, error) {
	var (
		dv    *DeletedVersion
		state swstore.OriginState
	)
	err := d.update(func(tx *bbolt.Tx) error {
		key, err := registrationKeyForOrigin(tx, id, origin)
		if err != nil {
			return err
		}
		dv, err = deleteRegistrationTx(tx, key, nil, true)
		if err != nil {
			return err
		}

		prefix := originPrefix(dv.Origin)
		k, _ := tx.Bucket(bucketRegistrations).Cursor().Seek(prefix)
		if k != nil && bytes.HasPrefix(k, prefix) {
			state = swstore.OriginStateKeep
		} else {
			state = swstore.OriginStateDelete
		}
		return nil
	})
	if err != nil {
		return nil, swstore.OriginStateKeep, err
	}

	d.logger.Debug("registration deleted", "registration_id", id, "version_id", dv.VersionID, "origin_state", state)
	return dv, state, nil
}

// UpdateToActiveState marks a registration active.
func (d *DB) UpdateToActiveState(_ context.Context, id swstore.RegistrationID, origin swstore.Origin) error {
	return d.updateRegistration(id, origin, func(data *swstore.RegistrationData) {
		data.IsActive = true
	})
}

// UpdateLastUpdateCheckTime records when the registration was last checked for updates.
func (d *DB) UpdateLastUpdateCheckTime(_ context.Context, id swstore.RegistrationID, origin swstore.Origin, t time.Time) error {
	return d.updateRegistration(id, origin, func(data *swstore.RegistrationData) {
		data.LastUpdateCheck = t
	})
}

// UpdateNavigationPreloadEnabled enables or disables navigation preload.
func (d *DB) UpdateNavigationPreloadEnabled(_ context.Context, id swstore.RegistrationID, origin swstore.Origin, enabled bool) error {
	return d.updateRegistration(id, origin, func(data *swstore.RegistrationData) {
		data.NavigationPreload.Enabled = enabled
	})
}

// UpdateNavigationPreloadHeader sets the navigation preload header value.
func (d *DB) UpdateNavigationPreloadHeader(_ context.Context, id swstore.RegistrationID, origin swstore.Origin, header string) error {
	return d.updateRegistration(id, origin, func(data *swstore.RegistrationData) {
		data.NavigationPreload.Header = header
	})
}

func (d *DB) updateRegistration(id swstore.RegistrationID, origin swstore.Origin, fn func(*swstore.RegistrationData)) error {
	return d.update(func(tx *bbolt.Tx) error {
		key, err := registrationKeyForOrigin(tx, id, origin)
		if err != nil {
			return err
		}
		rec, err := getRegistrationRecord(tx, key)
		if err != nil {
			return err
		}
		fn(&rec.Data)
		return putRegistrationRecord(tx, key, rec)
	})
}

// registrationKeyForOrigin looks up id and checks it belongs to origin
// when origin is not empty.
func registrationKeyForOrigin(tx *bbolt.Tx, id swstore.RegistrationID, origin swstore.Origin) ([]byte, error) {
	key, err := registrationKeyForID(tx, id)
	if err != nil {
		return nil, err
	}
	if origin != "" {
		if stored, _ := parseRegistrationKey(key); stored != origin {
			return nil, ErrNotFound
		}
	}
	return key, nil
}

// deleteRegistrationTx removes the registration at key. Resources in keep
// are unlinked without being made purgeable.
func deleteRegistrationTx(tx *bbolt.Tx, key []byte, keep map[swstore.ResourceID]struct{}, deleteUserData bool) (*DeletedVersion, error) {
	rec, err := getRegistrationRecord(tx, key)
	if err != nil {
		return nil, err
	}
	origin, _ := parseRegistrationKey(key)

	if err := tx.Bucket(bucketRegistrations).Delete(key); err != nil {
		return nil, fmt.Errorf("deleting registration: %w", err)
	}
	if err := tx.Bucket(bucketRegistrationIDs).Delete(encodeID(int64(rec.Data.RegistrationID))); err != nil {
		return nil, fmt.Errorf("deleting registration id: %w", err)
	}

	dv := &DeletedVersion{
		RegistrationID:          rec.Data.RegistrationID,
		VersionID:               rec.Data.VersionID,
		Origin:                  origin,
		ResourcesTotalSizeBytes: rec.Data.ResourcesTotalSizeBytes,
	}

	resources := tx.Bucket(bucketResources)
	purgeable := tx.Bucket(bucketPurgeable)
	for _, id := range rec.ResourceIDs {
		if err := resources.Delete(encodeID(int64(id))); err != nil {
			return nil, fmt.Errorf("deleting resource %d: %w", id, err)
		}
		if _, reused := keep[id]; reused {
			continue
		}
		if err := purgeable.Put(encodeID(int64(id)), markerValue); err != nil {
			return nil, fmt.Errorf("marking resource %d purgeable: %w", id, err)
		}
		dv.PurgeableResourceIDs = append(dv.PurgeableResourceIDs, id)
	}

	if deleteUserData {
		if err := deleteAllUserDataTx(tx, rec.Data.RegistrationID); err != nil {
			return nil, err
		}
	}
	return dv, nil
}
