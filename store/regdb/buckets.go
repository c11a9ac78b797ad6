package regdb

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/wolfeidau/swstore"
)

// Bucket names for bbolt storage.
var (
	bucketRegistrations   = []byte("registrations")     // origin\x00scope -> registrationRecord JSON
	bucketRegistrationIDs = []byte("registration_ids")  // be64 registration id -> origin\x00scope
	bucketResources       = []byte("resources")         // be64 resource id -> resourceEntry JSON
	bucketUncommitted     = []byte("uncommitted")       // be64 resource id -> origin
	bucketPurgeable       = []byte("purgeable")         // be64 resource id -> empty
	bucketUserData        = []byte("user_data")         // be64 registration id + key -> encoded value
	bucketUserDataByKey   = []byte("user_data_by_key")  // key\x00be64 registration id -> empty
	bucketCounters        = []byte("counters")          // counter name -> be64 next id
	bucketPurgeOnShutdown = []byte("purge_on_shutdown") // origin -> empty
)

var allBuckets = [][]byte{
	bucketRegistrations,
	bucketRegistrationIDs,
	bucketResources,
	bucketUncommitted,
	bucketPurgeable,
	bucketUserData,
	bucketUserDataByKey,
	bucketCounters,
	bucketPurgeOnShutdown,
}

// Counter names.
var (
	counterRegistration = []byte("registration")
	counterVersion      = []byte("version")
	counterResource     = []byte("resource")
)

// encodeID converts an id to a fixed-width big-endian key so cursor order
// matches numeric order. Ids are never negative when stored.
func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id)) //nolint:gosec // ids are validated non-negative
	return buf
}

func decodeID(b []byte) int64 {
	if len(b) < 8 {
		return -1
	}
	return int64(binary.BigEndian.Uint64(b[:8])) //nolint:gosec // written by encodeID
}

// makeRegistrationKey creates the key of a registration record.
// Format: [origin][separator][scope]
func makeRegistrationKey(origin swstore.Origin, scope string) []byte {
	result := make([]byte, len(origin)+1+len(scope))
	copy(result, origin)
	result[len(origin)] = 0 // null separator
	copy(result[len(origin)+1:], scope)
	return result
}

// originPrefix is the key prefix of every registration of origin.
func originPrefix(origin swstore.Origin) []byte {
	return makeRegistrationKey(origin, "")
}

func parseRegistrationKey(data []byte) (origin swstore.Origin, scope string) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return swstore.Origin(data[:i]), string(data[i+1:])
	}
	return swstore.Origin(data), ""
}

// makeUserDataKey creates the key of a user data value.
// Format: [8-byte registration id][key]
func makeUserDataKey(id swstore.RegistrationID, key string) []byte {
	result := make([]byte, 8+len(key))
	copy(result, encodeID(int64(id)))
	copy(result[8:], key)
	return result
}

func parseUserDataKey(data []byte) (swstore.RegistrationID, string) {
	return swstore.RegistrationID(decodeID(data)), string(data[8:])
}

// makeUserDataIndexKey creates the key of the cross-registration index.
// Format: [key][separator][8-byte registration id]
func makeUserDataIndexKey(key string, id swstore.RegistrationID) []byte {
	result := make([]byte, len(key)+1+8)
	copy(result, key)
	result[len(key)] = 0 // null separator
	copy(result[len(key)+1:], encodeID(int64(id)))
	return result
}

func parseUserDataIndexKey(data []byte) (string, swstore.RegistrationID) {
	if len(data) < 9 {
		return "", swstore.InvalidRegistrationID
	}
	return string(data[:len(data)-9]), swstore.RegistrationID(decodeID(data[len(data)-8:]))
}

// validUserDataKey rejects keys that would break the index key format.
func validUserDataKey(key string) bool {
	return key != "" && !strings.ContainsRune(key, 0)
}
