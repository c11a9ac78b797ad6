package regdb

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/swstore"
)

// ApplyPolicyUpdates records which origins are purged on the next
// ApplyPurgeOnShutdown. Nothing is deleted immediately.
func (d *DB) ApplyPolicyUpdates(_ context.Context, updates []swstore.PolicyUpdate) error {
	for _, u := range updates {
		if u.Origin == "" {
			return fmt.Errorf("%w: empty origin in policy update", ErrInvalidArgument)
		}
	}
	return d.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPurgeOnShutdown)
		for _, u := range updates {
			var err error
			if u.PurgeOnShutdown {
				err = bucket.Put([]byte(u.Origin), markerValue)
			} else {
				err = bucket.Delete([]byte(u.Origin))
			}
			if err != nil {
				return fmt.Errorf("updating policy for %s: %w", u.Origin, err)
			}
		}
		return nil
	})
}

// GetPurgeOnShutdownOrigins returns the origins marked for purging.
func (d *DB) GetPurgeOnShutdownOrigins(_ context.Context) ([]swstore.Origin, error) {
	var origins []swstore.Origin
	err := d.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPurgeOnShutdown).ForEach(func(k, _ []byte) error {
			origins = append(origins, swstore.Origin(k))
			return nil
		})
	})
	return origins, err
}

// ApplyPurgeOnShutdown deletes every registration of every marked origin
// and clears the marks, in one transaction.
func (d *DB) ApplyPurgeOnShutdown(_ context.Context) ([]DeletedVersion, error) {
	var deleted []DeletedVersion
	err := d.update(func(tx *bbolt.Tx) error {
		deleted = nil
		policy := tx.Bucket(bucketPurgeOnShutdown)

		var origins [][]byte
		if err := policy.ForEach(func(k, _ []byte) error {
			origins = append(origins, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}

		for _, origin := range origins {
			prefix := originPrefix(swstore.Origin(origin))
			var keys [][]byte
			c := tx.Bucket(bucketRegistrations).Cursor()
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				keys = append(keys, append([]byte(nil), k...))
			}
			for _, key := range keys {
				dv, err := deleteRegistrationTx(tx, key, nil, true)
				if err != nil {
					return err
				}
				deleted = append(deleted, *dv)
			}
			if err := policy.Delete(origin); err != nil {
				return fmt.Errorf("clearing policy for %s: %w", origin, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(deleted) > 0 {
		d.logger.Info("purged registrations of purge-on-shutdown origins", "registrations", len(deleted))
	}
	return deleted, nil
}
