package regdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/swstore"
)

// registrationRecord is the stored form of a registration.
type registrationRecord struct {
	Data        swstore.RegistrationData `json:"data"`
	ResourceIDs []swstore.ResourceID     `json:"resource_ids"`
}

// resourceEntry is the stored form of a resource record.
type resourceEntry struct {
	RegistrationID swstore.RegistrationID `json:"registration_id"`
	URL            string                 `json:"url"`
	SizeBytes      int64                  `json:"size_bytes"`
	SHA256Checksum string                 `json:"sha256_checksum,omitempty"`
}

func getRegistrationRecord(tx *bbolt.Tx, key []byte) (*registrationRecord, error) {
	val := tx.Bucket(bucketRegistrations).Get(key)
	if val == nil {
		return nil, ErrNotFound
	}
	var rec registrationRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("%w: registration %q: %v", ErrCorrupted, key, err)
	}
	return &rec, nil
}

func putRegistrationRecord(tx *bbolt.Tx, key []byte, rec *registrationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling registration: %w", err)
	}
	if err := tx.Bucket(bucketRegistrations).Put(key, data); err != nil {
		return fmt.Errorf("putting registration: %w", err)
	}
	if err := tx.Bucket(bucketRegistrationIDs).Put(encodeID(int64(rec.Data.RegistrationID)), key); err != nil {
		return fmt.Errorf("putting registration id: %w", err)
	}
	return nil
}

// registrationKeyForID returns the registration key of id, or ErrNotFound.
// The returned slice is copied out of the transaction.
func registrationKeyForID(tx *bbolt.Tx, id swstore.RegistrationID) ([]byte, error) {
	if !id.Valid() {
		return nil, ErrNotFound
	}
	key := tx.Bucket(bucketRegistrationIDs).Get(encodeID(int64(id)))
	if key == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), key...), nil
}

// loadRegistration reads a registration with its resource records.
func loadRegistration(tx *bbolt.Tx, key []byte) (*Registration, error) {
	rec, err := getRegistrationRecord(tx, key)
	if err != nil {
		return nil, err
	}
	resources, err := readResourceEntries(tx, rec.ResourceIDs)
	if err != nil {
		return nil, err
	}
	return &Registration{Data: rec.Data, Resources: resources}, nil
}

func readResourceEntries(tx *bbolt.Tx, ids []swstore.ResourceID) ([]swstore.ResourceRecord, error) {
	bucket := tx.Bucket(bucketResources)
	resources := make([]swstore.ResourceRecord, 0, len(ids))
	for _, id := range ids {
		val := bucket.Get(encodeID(int64(id)))
		if val == nil {
			return nil, fmt.Errorf("%w: missing resource record %d", ErrCorrupted, id)
		}
		var entry resourceEntry
		if err := json.Unmarshal(val, &entry); err != nil {
			return nil, fmt.Errorf("%w: resource %d: %v", ErrCorrupted, id, err)
		}
		resources = append(resources, swstore.ResourceRecord{
			ResourceID:     id,
			URL:            entry.URL,
			SizeBytes:      entry.SizeBytes,
			SHA256Checksum: entry.SHA256Checksum,
		})
	}
	return resources, nil
}

func putResourceEntry(tx *bbolt.Tx, owner swstore.RegistrationID, r swstore.ResourceRecord) error {
	data, err := json.Marshal(resourceEntry{
		RegistrationID: owner,
		URL:            r.URL,
		SizeBytes:      r.SizeBytes,
		SHA256Checksum: r.SHA256Checksum,
	})
	if err != nil {
		return fmt.Errorf("marshaling resource %d: %w", r.ResourceID, err)
	}
	if err := tx.Bucket(bucketResources).Put(encodeID(int64(r.ResourceID)), data); err != nil {
		return fmt.Errorf("putting resource %d: %w", r.ResourceID, err)
	}
	return nil
}

// resourceOwner returns the registration owning a resource record.
func resourceOwner(tx *bbolt.Tx, id swstore.ResourceID) (swstore.RegistrationID, bool, error) {
	val := tx.Bucket(bucketResources).Get(encodeID(int64(id)))
	if val == nil {
		return swstore.InvalidRegistrationID, false, nil
	}
	var entry resourceEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return swstore.InvalidRegistrationID, false, fmt.Errorf("%w: resource %d: %v", ErrCorrupted, id, err)
	}
	return entry.RegistrationID, true, nil
}
