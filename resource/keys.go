package resource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/backend"
)

const keyPrefix = "resources"

// resourceDir shards resources into 256 directories by id.
// Format: resources/{id%256 as 2 hex}/{id}
func resourceDir(id swstore.ResourceID) string {
	return fmt.Sprintf("%s/%02x/%d", keyPrefix, uint64(id)%256, id) //nolint:gosec // ids are validated non-negative
}

func partKey(id swstore.ResourceID, kind backend.PartKind) string {
	return resourceDir(id) + "/" + string(kind)
}

// parseResourceKey extracts the resource id from a part key.
func parseResourceKey(key string) (swstore.ResourceID, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != keyPrefix {
		return swstore.InvalidResourceID, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id < 0 {
		return swstore.InvalidResourceID, false
	}
	if resourceDir(swstore.ResourceID(id)) != strings.Join(parts[:3], "/") {
		return swstore.InvalidResourceID, false
	}
	return swstore.ResourceID(id), true
}
