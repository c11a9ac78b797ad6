// Package swstore holds the shared vocabulary of the service worker storage
// layer: identifiers, origins, registration records and the status taxonomy
// returned by every storage operation.
package swstore

import "strconv"

// RegistrationID identifies a stored registration. Never reused.
type RegistrationID int64

// VersionID identifies one version of a registration's script.
type VersionID int64

// ResourceID identifies a script resource in the blob store.
type ResourceID int64

const (
	InvalidRegistrationID RegistrationID = -1
	InvalidVersionID      VersionID      = -1
	InvalidResourceID     ResourceID     = -1
)

func (id RegistrationID) Valid() bool { return id >= 0 }
func (id VersionID) Valid() bool      { return id >= 0 }
func (id ResourceID) Valid() bool     { return id >= 0 }

func (id RegistrationID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id VersionID) String() string      { return strconv.FormatInt(int64(id), 10) }
func (id ResourceID) String() string     { return strconv.FormatInt(int64(id), 10) }
