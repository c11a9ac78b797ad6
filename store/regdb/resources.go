package regdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/swstore"
)

// NextRegistrationID allocates a registration id. Ids are never reused.
func (d *DB) NextRegistrationID(_ context.Context) (swstore.RegistrationID, error) {
	id, err := d.nextID(counterRegistration)
	return swstore.RegistrationID(id), err
}

// NextVersionID allocates a version id.
func (d *DB) NextVersionID(_ context.Context) (swstore.VersionID, error) {
	id, err := d.nextID(counterVersion)
	return swstore.VersionID(id), err
}

// NextResourceID allocates a resource id.
func (d *DB) NextResourceID(_ context.Context) (swstore.ResourceID, error) {
	id, err := d.nextID(counterResource)
	return swstore.ResourceID(id), err
}

// PeekNextResourceID returns the id the next NextResourceID call will
// allocate. Every resource id below it was allocated earlier.
func (d *DB) PeekNextResourceID(_ context.Context) (swstore.ResourceID, error) {
	var id int64
	err := d.view(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketCounters).Get(counterResource); v != nil {
			id = decodeID(v)
		}
		return nil
	})
	return swstore.ResourceID(id), err
}

func (d *DB) nextID(name []byte) (int64, error) {
	var id int64
	err := d.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCounters)
		id = 0
		if v := bucket.Get(name); v != nil {
			id = decodeID(v)
		}
		if err := bucket.Put(name, encodeID(id+1)); err != nil {
			return fmt.Errorf("advancing %s counter: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	return id, nil
}

// WriteUncommittedResourceIDs marks ids as reserved for origin but not yet
// part of a stored registration.
func (d *DB) WriteUncommittedResourceIDs(_ context.Context, origin swstore.Origin, ids []swstore.ResourceID) error {
	if err := validResourceIDs(ids); err != nil {
		return err
	}
	return d.update(func(tx *bbolt.Tx) error {
		return putMarkers(tx.Bucket(bucketUncommitted), ids, []byte(origin))
	})
}

// ClearUncommittedResourceIDs removes uncommitted markers.
func (d *DB) ClearUncommittedResourceIDs(_ context.Context, ids []swstore.ResourceID) error {
	return d.update(func(tx *bbolt.Tx) error {
		return deleteMarkers(tx.Bucket(bucketUncommitted), ids)
	})
}

// GetUncommittedResourceIDs returns every uncommitted resource id in ascending order.
func (d *DB) GetUncommittedResourceIDs(_ context.Context) ([]swstore.ResourceID, error) {
	var ids []swstore.ResourceID
	err := d.view(func(tx *bbolt.Tx) error {
		ids = readMarkers(tx.Bucket(bucketUncommitted), 0)
		return nil
	})
	return ids, err
}

// PurgeUncommittedResourceIDs moves uncommitted ids to the purgeable set
// in one transaction. It fails without changes if any id has a resource
// record or no uncommitted marker.
func (d *DB) PurgeUncommittedResourceIDs(_ context.Context, ids []swstore.ResourceID) error {
	if err := validResourceIDs(ids); err != nil {
		return err
	}
	return d.update(func(tx *bbolt.Tx) error {
		resources := tx.Bucket(bucketResources)
		uncommitted := tx.Bucket(bucketUncommitted)
		for _, id := range ids {
			key := encodeID(int64(id))
			if resources.Get(key) != nil {
				return fmt.Errorf("%w: resource %d is committed", ErrInvalidArgument, id)
			}
			if uncommitted.Get(key) == nil {
				return fmt.Errorf("%w: resource %d is not uncommitted", ErrInvalidArgument, id)
			}
		}
		if err := deleteMarkers(tx.Bucket(bucketUncommitted), ids); err != nil {
			return err
		}
		return putMarkers(tx.Bucket(bucketPurgeable), ids, markerValue)
	})
}

// WritePurgeableResourceIDs marks ids for deletion from the blob store.
func (d *DB) WritePurgeableResourceIDs(_ context.Context, ids []swstore.ResourceID) error {
	if err := validResourceIDs(ids); err != nil {
		return err
	}
	return d.update(func(tx *bbolt.Tx) error {
		return putMarkers(tx.Bucket(bucketPurgeable), ids, markerValue)
	})
}

// ClearPurgeableResourceIDs removes purgeable markers once blobs are gone.
func (d *DB) ClearPurgeableResourceIDs(_ context.Context, ids []swstore.ResourceID) error {
	return d.update(func(tx *bbolt.Tx) error {
		return deleteMarkers(tx.Bucket(bucketPurgeable), ids)
	})
}

// GetPurgeableResourceIDs returns up to limit purgeable ids in ascending
// order. limit <= 0 returns all of them.
func (d *DB) GetPurgeableResourceIDs(_ context.Context, limit int) ([]swstore.ResourceID, error) {
	var ids []swstore.ResourceID
	err := d.view(func(tx *bbolt.Tx) error {
		ids = readMarkers(tx.Bucket(bucketPurgeable), limit)
		return nil
	})
	return ids, err
}

// IsKnownResource reports whether id has a resource record or an
// uncommitted or purgeable marker.
func (d *DB) IsKnownResource(_ context.Context, id swstore.ResourceID) (bool, error) {
	var known bool
	err := d.view(func(tx *bbolt.Tx) error {
		key := encodeID(int64(id))
		known = tx.Bucket(bucketResources).Get(key) != nil ||
			tx.Bucket(bucketUncommitted).Get(key) != nil ||
			tx.Bucket(bucketPurgeable).Get(key) != nil
		return nil
	})
	return known, err
}

func validResourceIDs(ids []swstore.ResourceID) error {
	for _, id := range ids {
		if !id.Valid() {
			return fmt.Errorf("%w: resource id %d", ErrInvalidArgument, id)
		}
	}
	return nil
}

func putMarkers(bucket *bbolt.Bucket, ids []swstore.ResourceID, value []byte) error {
	if len(value) == 0 {
		value = markerValue
	}
	for _, id := range ids {
		if err := bucket.Put(encodeID(int64(id)), value); err != nil {
			return fmt.Errorf("marking resource %d: %w", id, err)
		}
	}
	return nil
}

func deleteMarkers(bucket *bbolt.Bucket, ids []swstore.ResourceID) error {
	for _, id := range ids {
		if err := bucket.Delete(encodeID(int64(id))); err != nil {
			return fmt.Errorf("clearing resource %d: %w", id, err)
		}
	}
	return nil
}

func readMarkers(bucket *bbolt.Bucket, limit int) []swstore.ResourceID {
	var ids []swstore.ResourceID
	c := bucket.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		ids = append(ids, swstore.ResourceID(decodeID(k)))
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids
}
