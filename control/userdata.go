package control

import (
	"context"

	"github.com/wolfeidau/swstore"
)

// GetUserData returns the values of keys for registration id, in key
// order. It fails with swstore.ErrNotFound unless every key exists.
func (c *Control) GetUserData(ctx context.Context, id swstore.RegistrationID, keys []string) ([][]byte, error) {
	var values [][]byte
	err := c.runInitialized(ctx, "get_user_data", func(ctx context.Context) error {
		var err error
		values, err = c.db.ReadUserData(ctx, id, keys)
		return err
	})
	return values, err
}

// GetUserDataByKeyPrefix returns the values of keys starting with prefix.
// No match is an empty result, not an error.
func (c *Control) GetUserDataByKeyPrefix(ctx context.Context, id swstore.RegistrationID, prefix string) ([][]byte, error) {
	var values [][]byte
	err := c.runInitialized(ctx, "get_user_data_by_key_prefix", func(ctx context.Context) error {
		var err error
		values, err = c.db.ReadUserDataByKeyPrefix(ctx, id, prefix)
		return err
	})
	return values, err
}

// GetUserKeysAndDataByKeyPrefix returns entries whose key starts with
// prefix, keyed by the remainder of the key after prefix.
func (c *Control) GetUserKeysAndDataByKeyPrefix(ctx context.Context, id swstore.RegistrationID, prefix string) (map[string][]byte, error) {
	var entries map[string][]byte
	err := c.runInitialized(ctx, "get_user_keys_and_data_by_key_prefix", func(ctx context.Context) error {
		var err error
		entries, err = c.db.ReadUserKeysAndDataByKeyPrefix(ctx, id, prefix)
		return err
	})
	return entries, err
}

// StoreUserData writes entries for registration id, which must exist.
func (c *Control) StoreUserData(ctx context.Context, id swstore.RegistrationID, origin swstore.Origin, entries map[string][]byte) error {
	return c.runInitialized(ctx, "store_user_data", func(ctx context.Context) error {
		return c.db.WriteUserData(ctx, id, origin, entries)
	})
}

func (c *Control) ClearUserData(ctx context.Context, id swstore.RegistrationID, keys []string) error {
	return c.runInitialized(ctx, "clear_user_data", func(ctx context.Context) error {
		return c.db.DeleteUserData(ctx, id, keys)
	})
}

func (c *Control) ClearUserDataByKeyPrefixes(ctx context.Context, id swstore.RegistrationID, prefixes []string) error {
	return c.runInitialized(ctx, "clear_user_data_by_key_prefixes", func(ctx context.Context) error {
		return c.db.DeleteUserDataByKeyPrefixes(ctx, id, prefixes)
	})
}

// GetUserDataForAllRegistrations returns key's value for every
// registration that has it, ordered by registration id.
func (c *Control) GetUserDataForAllRegistrations(ctx context.Context, key string) ([]swstore.UserData, error) {
	var values []swstore.UserData
	err := c.runInitialized(ctx, "get_user_data_for_all_registrations", func(ctx context.Context) error {
		var err error
		values, err = c.db.ReadUserDataForAllRegistrations(ctx, key)
		return err
	})
	return values, err
}

// GetUserDataForAllRegistrationsByKeyPrefix returns entries of every
// registration whose key starts with prefix. Keys are returned without the
// prefix.
func (c *Control) GetUserDataForAllRegistrationsByKeyPrefix(ctx context.Context, prefix string) ([]swstore.UserData, error) {
	var values []swstore.UserData
	err := c.runInitialized(ctx, "get_user_data_for_all_registrations_by_key_prefix", func(ctx context.Context) error {
		var err error
		values, err = c.db.ReadUserDataForAllRegistrationsByKeyPrefix(ctx, prefix)
		return err
	})
	return values, err
}

func (c *Control) ClearUserDataForAllRegistrationsByKeyPrefix(ctx context.Context, prefix string) error {
	return c.runInitialized(ctx, "clear_user_data_for_all_registrations_by_key_prefix", func(ctx context.Context) error {
		return c.db.DeleteUserDataForAllRegistrationsByKeyPrefix(ctx, prefix)
	})
}
