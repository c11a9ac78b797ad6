package swstore

import (
	"fmt"
	"net/url"
	"time"
)

// ScriptType is the type of a registration's main script.
type ScriptType string

const (
	ScriptTypeClassic ScriptType = "classic"
	ScriptTypeModule  ScriptType = "module"
)

// UpdateViaCache controls whether update checks bypass the HTTP cache.
type UpdateViaCache string

const (
	UpdateViaCacheImports UpdateViaCache = "imports"
	UpdateViaCacheAll     UpdateViaCache = "all"
	UpdateViaCacheNone    UpdateViaCache = "none"
)

// DefaultNavigationPreloadHeader is the Service-Worker-Navigation-Preload
// header value used until one is set.
const DefaultNavigationPreloadHeader = "true"

// NavigationPreloadState is the navigation preload configuration of a
// registration.
type NavigationPreloadState struct {
	Enabled bool   `json:"enabled"`
	Header  string `json:"header"`
}

// DefaultNavigationPreloadState returns preload disabled with the default header.
func DefaultNavigationPreloadState() NavigationPreloadState {
	return NavigationPreloadState{Header: DefaultNavigationPreloadHeader}
}

// RegistrationData is a stored registration.
type RegistrationData struct {
	RegistrationID     RegistrationID         `json:"registration_id"`
	Scope              string                 `json:"scope"`
	Script             string                 `json:"script"`
	ScriptType         ScriptType             `json:"script_type"`
	UpdateViaCache     UpdateViaCache         `json:"update_via_cache"`
	VersionID          VersionID              `json:"version_id"`
	IsActive           bool                   `json:"is_active"`
	HasFetchHandler    bool                   `json:"has_fetch_handler"`
	LastUpdateCheck    time.Time              `json:"last_update_check"`
	ScriptResponseTime time.Time              `json:"script_response_time"`
	NavigationPreload  NavigationPreloadState `json:"navigation_preload"`

	// ResourcesTotalSizeBytes is recomputed from the resource records each
	// time the registration is stored.
	ResourcesTotalSizeBytes int64 `json:"resources_total_size_bytes"`
}

// NewRegistrationData returns registration data with the defaults applied to
// every optional field.
func NewRegistrationData(id RegistrationID, scope, script string, version VersionID) RegistrationData {
	return RegistrationData{
		RegistrationID:    id,
		Scope:             scope,
		Script:            script,
		ScriptType:        ScriptTypeClassic,
		UpdateViaCache:    UpdateViaCacheImports,
		VersionID:         version,
		NavigationPreload: DefaultNavigationPreloadState(),
	}
}

// Origin returns the origin of the registration's scope.
func (d *RegistrationData) Origin() (Origin, error) {
	return OriginOf(d.Scope)
}

// Validate checks the registration and its resources before they are
// stored.
func (d *RegistrationData) Validate(resources []ResourceRecord) error {
	if !d.RegistrationID.Valid() {
		return fmt.Errorf("%w: invalid registration id %d", ErrFailed, d.RegistrationID)
	}
	if !d.VersionID.Valid() {
		return fmt.Errorf("%w: invalid version id %d", ErrFailed, d.VersionID)
	}
	scope, err := url.Parse(d.Scope)
	if err != nil {
		return fmt.Errorf("%w: scope: %v", ErrInvalidURL, err)
	}
	scopeOrigin, err := originOfURL(scope)
	if err != nil {
		return err
	}
	if !scopeOrigin.Matches(d.Script) {
		return fmt.Errorf("%w: script %q is not same-origin with scope %q", ErrFailed, d.Script, d.Scope)
	}
	if len(resources) == 0 {
		return fmt.Errorf("%w: registration %d has no resources", ErrFailed, d.RegistrationID)
	}

	seen := make(map[ResourceID]struct{}, len(resources))
	for _, r := range resources {
		if !r.ResourceID.Valid() {
			return fmt.Errorf("%w: invalid resource id %d", ErrFailed, r.ResourceID)
		}
		if _, dup := seen[r.ResourceID]; dup {
			return fmt.Errorf("%w: duplicate resource id %d", ErrFailed, r.ResourceID)
		}
		if r.SizeBytes < 0 {
			return fmt.Errorf("%w: negative size for resource %d", ErrFailed, r.ResourceID)
		}
		seen[r.ResourceID] = struct{}{}
	}
	return nil
}

// ResourceRecord describes one script resource of a registration.
type ResourceRecord struct {
	ResourceID     ResourceID `json:"resource_id"`
	URL            string     `json:"url"`
	SizeBytes      int64      `json:"size_bytes"`
	SHA256Checksum string     `json:"sha256_checksum,omitempty"`
}

// TotalSize sums the sizes of resources.
func TotalSize(resources []ResourceRecord) int64 {
	var total int64
	for _, r := range resources {
		total += r.SizeBytes
	}
	return total
}

// ResourceIDs returns the ids of resources in order.
func ResourceIDs(resources []ResourceRecord) []ResourceID {
	ids := make([]ResourceID, len(resources))
	for i, r := range resources {
		ids[i] = r.ResourceID
	}
	return ids
}

// UserData is one user data entry found by a cross-registration lookup.
type UserData struct {
	RegistrationID RegistrationID `json:"registration_id"`
	Key            string         `json:"key"`
	Value          []byte         `json:"value"`
}

// PolicyUpdate changes the storage policy of one origin.
type PolicyUpdate struct {
	Origin          Origin `json:"origin"`
	PurgeOnShutdown bool   `json:"purge_on_shutdown"`
}

// OriginState reports whether an origin still has registrations after a
// delete.
type OriginState int

const (
	OriginStateKeep OriginState = iota
	OriginStateDelete
)

func (s OriginState) String() string {
	if s == OriginStateDelete {
		return "delete"
	}
	return "keep"
}
