// Package regdb persists service worker registrations, their resource
// records, resource id markers, user data and storage policy in bbolt.
package regdb

import (
	"fmt"

	"github.com/wolfeidau/swstore"
)

var (
	// ErrNotFound is returned when a registration or user data entry does not exist.
	ErrNotFound = fmt.Errorf("regdb: %w", swstore.ErrNotFound)

	// ErrInvalidArgument is returned for arguments rejected before any write.
	ErrInvalidArgument = fmt.Errorf("regdb: invalid argument: %w", swstore.ErrFailed)

	// ErrCorrupted is returned when a stored record cannot be decoded.
	ErrCorrupted = fmt.Errorf("regdb: corrupted record: %w", swstore.ErrFailed)

	// ErrNotOpen is returned when the database is used before Open or after Close.
	ErrNotOpen = fmt.Errorf("regdb: database not open: %w", swstore.ErrFailed)
)

// Registration is a stored registration with its resource records.
type Registration struct {
	Data      swstore.RegistrationData
	Resources []swstore.ResourceRecord
}

// DeletedVersion describes a registration version removed by a write,
// delete or policy purge.
type DeletedVersion struct {
	RegistrationID          swstore.RegistrationID
	VersionID               swstore.VersionID
	Origin                  swstore.Origin
	ResourcesTotalSizeBytes int64

	// PurgeableResourceIDs are the resources of the version that were
	// moved to the purgeable set. Resources reused by a replacing
	// registration are not included.
	PurgeableResourceIDs []swstore.ResourceID
}
