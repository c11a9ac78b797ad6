package regdb

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/swstore"
)

// ReadUserData returns the values of keys in request order. If any key is
// absent it returns ErrNotFound and no values at all.
func (d *DB) ReadUserData(_ context.Context, id swstore.RegistrationID, keys []string) ([][]byte, error) {
	if err := validKeys(keys); err != nil {
		return nil, err
	}

	var values [][]byte
	err := d.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUserData)
		values = make([][]byte, 0, len(keys))
		for _, key := range keys {
			val := bucket.Get(makeUserDataKey(id, key))
			if val == nil {
				values = nil
				return ErrNotFound
			}
			decoded, err := d.decodeValue(val)
			if err != nil {
				return err
			}
			values = append(values, decoded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// ReadUserDataByKeyPrefix returns the values of every key starting with
// prefix, ordered by key. No match is an empty result, not an error.
func (d *DB) ReadUserDataByKeyPrefix(_ context.Context, id swstore.RegistrationID, prefix string) ([][]byte, error) {
	if err := validPrefix(prefix); err != nil {
		return nil, err
	}

	values := [][]byte{}
	err := d.view(func(tx *bbolt.Tx) error {
		return d.scanUserData(tx, id, prefix, func(_ string, val []byte) error {
			values = append(values, val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// ReadUserKeysAndDataByKeyPrefix returns entries whose key starts with
// prefix, keyed by the key with prefix removed.
func (d *DB) ReadUserKeysAndDataByKeyPrefix(_ context.Context, id swstore.RegistrationID, prefix string) (map[string][]byte, error) {
	if err := validPrefix(prefix); err != nil {
		return nil, err
	}

	entries := map[string][]byte{}
	err := d.view(func(tx *bbolt.Tx) error {
		return d.scanUserData(tx, id, prefix, func(key string, val []byte) error {
			entries[strings.TrimPrefix(key, prefix)] = val
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteUserData stores entries for a registration of origin. Returns
// ErrNotFound when the registration does not exist.
func (d *DB) WriteUserData(_ context.Context, id swstore.RegistrationID, origin swstore.Origin, entries map[string][]byte) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no user data entries", ErrInvalidArgument)
	}
	for key := range entries {
		if !validUserDataKey(key) {
			return fmt.Errorf("%w: user data key %q", ErrInvalidArgument, key)
		}
	}

	return d.update(func(tx *bbolt.Tx) error {
		if _, err := registrationKeyForOrigin(tx, id, origin); err != nil {
			return err
		}
		data := tx.Bucket(bucketUserData)
		index := tx.Bucket(bucketUserDataByKey)
		for key, value := range entries {
			if err := data.Put(makeUserDataKey(id, key), d.codec.EncodeValue(value)); err != nil {
				return fmt.Errorf("putting user data %q: %w", key, err)
			}
			if err := index.Put(makeUserDataIndexKey(key, id), markerValue); err != nil {
				return fmt.Errorf("indexing user data %q: %w", key, err)
			}
		}
		return nil
	})
}

// DeleteUserData removes keys of a registration. Absent keys are ignored.
func (d *DB) DeleteUserData(_ context.Context, id swstore.RegistrationID, keys []string) error {
	if err := validKeys(keys); err != nil {
		return err
	}
	return d.update(func(tx *bbolt.Tx) error {
		for _, key := range keys {
			if err := deleteUserDataTx(tx, id, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteUserDataByKeyPrefixes removes every key of a registration that
// starts with any of prefixes.
func (d *DB) DeleteUserDataByKeyPrefixes(_ context.Context, id swstore.RegistrationID, prefixes []string) error {
	if len(prefixes) == 0 {
		return fmt.Errorf("%w: no key prefixes", ErrInvalidArgument)
	}
	for _, prefix := range prefixes {
		if err := validPrefix(prefix); err != nil {
			return err
		}
	}

	return d.update(func(tx *bbolt.Tx) error {
		for _, prefix := range prefixes {
			keys := userDataKeys(tx, id, prefix)
			for _, key := range keys {
				if err := deleteUserDataTx(tx, id, key); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ReadUserDataForAllRegistrations returns the value of key for every
// registration that has it, ordered by registration id.
func (d *DB) ReadUserDataForAllRegistrations(_ context.Context, key string) ([]swstore.UserData, error) {
	if !validUserDataKey(key) {
		return nil, fmt.Errorf("%w: user data key %q", ErrInvalidArgument, key)
	}

	entries := []swstore.UserData{}
	err := d.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUserData)
		prefix := makeUserDataIndexKey(key, 0)[:len(key)+1]
		c := tx.Bucket(bucketUserDataByKey).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			_, id := parseUserDataIndexKey(k)
			val := data.Get(makeUserDataKey(id, key))
			if val == nil {
				return fmt.Errorf("%w: index entry without value for %q", ErrCorrupted, key)
			}
			decoded, err := d.decodeValue(val)
			if err != nil {
				return err
			}
			entries = append(entries, swstore.UserData{RegistrationID: id, Key: key, Value: decoded})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadUserDataForAllRegistrationsByKeyPrefix returns every entry whose key
// starts with prefix, ordered by registration id then key. Returned keys
// have prefix removed.
func (d *DB) ReadUserDataForAllRegistrationsByKeyPrefix(_ context.Context, prefix string) ([]swstore.UserData, error) {
	if err := validPrefix(prefix); err != nil {
		return nil, err
	}

	entries := []swstore.UserData{}
	err := d.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUserData)
		c := tx.Bucket(bucketUserDataByKey).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, _ = c.Next() {
			key, id := parseUserDataIndexKey(k)
			val := data.Get(makeUserDataKey(id, key))
			if val == nil {
				return fmt.Errorf("%w: index entry without value for %q", ErrCorrupted, key)
			}
			decoded, err := d.decodeValue(val)
			if err != nil {
				return err
			}
			entries = append(entries, swstore.UserData{
				RegistrationID: id,
				Key:            strings.TrimPrefix(key, prefix),
				Value:          decoded,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b swstore.UserData) int {
		return cmp.Or(cmp.Compare(a.RegistrationID, b.RegistrationID), strings.Compare(a.Key, b.Key))
	})
	return entries, nil
}

// DeleteUserDataForAllRegistrationsByKeyPrefix removes every entry of every
// registration whose key starts with prefix.
func (d *DB) DeleteUserDataForAllRegistrationsByKeyPrefix(_ context.Context, prefix string) error {
	if err := validPrefix(prefix); err != nil {
		return err
	}
	return d.update(func(tx *bbolt.Tx) error {
		type entry struct {
			id  swstore.RegistrationID
			key string
		}
		var matches []entry
		c := tx.Bucket(bucketUserDataByKey).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && bytes.HasPrefix(k, []byte(prefix)); k, _ = c.Next() {
			key, id := parseUserDataIndexKey(k)
			matches = append(matches, entry{id: id, key: key})
		}
		for _, m := range matches {
			if err := deleteUserDataTx(tx, m.id, m.key); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanUserData calls fn with each decoded entry of id whose key starts with prefix.
func (d *DB) scanUserData(tx *bbolt.Tx, id swstore.RegistrationID, prefix string, fn func(key string, val []byte) error) error {
	seek := makeUserDataKey(id, prefix)
	c := tx.Bucket(bucketUserData).Cursor()
	for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, v = c.Next() {
		_, key := parseUserDataKey(k)
		decoded, err := d.decodeValue(v)
		if err != nil {
			return err
		}
		if err := fn(key, decoded); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) decodeValue(val []byte) ([]byte, error) {
	decoded, err := d.codec.DecodeValue(val)
	if err != nil {
		return nil, fmt.Errorf("%w: user data value: %w", ErrCorrupted, err)
	}
	return decoded, nil
}

// userDataKeys returns the keys of id starting with prefix.
func userDataKeys(tx *bbolt.Tx, id swstore.RegistrationID, prefix string) []string {
	var keys []string
	seek := makeUserDataKey(id, prefix)
	c := tx.Bucket(bucketUserData).Cursor()
	for k, _ := c.Seek(seek); k != nil && bytes.HasPrefix(k, seek); k, _ = c.Next() {
		_, key := parseUserDataKey(k)
		keys = append(keys, key)
	}
	return keys
}

func deleteUserDataTx(tx *bbolt.Tx, id swstore.RegistrationID, key string) error {
	if err := tx.Bucket(bucketUserData).Delete(makeUserDataKey(id, key)); err != nil {
		return fmt.Errorf("deleting user data %q: %w", key, err)
	}
	if err := tx.Bucket(bucketUserDataByKey).Delete(makeUserDataIndexKey(key, id)); err != nil {
		return fmt.Errorf("deleting user data index %q: %w", key, err)
	}
	return nil
}

func deleteAllUserDataTx(tx *bbolt.Tx, id swstore.RegistrationID) error {
	for _, key := range userDataKeys(tx, id, "") {
		if err := deleteUserDataTx(tx, id, key); err != nil {
			return err
		}
	}
	return nil
}

func validKeys(keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: no user data keys", ErrInvalidArgument)
	}
	for _, key := range keys {
		if !validUserDataKey(key) {
			return fmt.Errorf("%w: user data key %q", ErrInvalidArgument, key)
		}
	}
	return nil
}

func validPrefix(prefix string) error {
	if strings.ContainsRune(prefix, 0) {
		return fmt.Errorf("%w: user data key prefix %q", ErrInvalidArgument, prefix)
	}
	return nil
}
