package swstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistrationDataDefaults(t *testing.T) {
	d := NewRegistrationData(1, "https://a.example/", "https://a.example/sw.js", 2)

	assert.False(t, d.IsActive)
	assert.True(t, d.LastUpdateCheck.IsZero())
	assert.False(t, d.NavigationPreload.Enabled)
	assert.Equal(t, "true", d.NavigationPreload.Header)
	assert.Equal(t, ScriptTypeClassic, d.ScriptType)

	o, err := d.Origin()
	require.NoError(t, err)
	assert.Equal(t, Origin("https://a.example"), o)
}

func TestRegistrationDataValidate(t *testing.T) {
	resources := []ResourceRecord{{ResourceID: 1, URL: "https://a.example/sw.js", SizeBytes: 10}}

	t.Run("valid registration passes", func(t *testing.T) {
		d := NewRegistrationData(1, "https://a.example/", "https://a.example/sw.js", 1)
		require.NoError(t, d.Validate(resources))
	})

	t.Run("cross origin script is rejected", func(t *testing.T) {
		d := NewRegistrationData(1, "https://a.example/", "https://b.example/sw.js", 1)
		require.ErrorIs(t, d.Validate(resources), ErrFailed)
	})

	t.Run("invalid ids are rejected", func(t *testing.T) {
		d := NewRegistrationData(InvalidRegistrationID, "https://a.example/", "https://a.example/sw.js", 1)
		require.ErrorIs(t, d.Validate(resources), ErrFailed)

		d = NewRegistrationData(1, "https://a.example/", "https://a.example/sw.js", InvalidVersionID)
		require.ErrorIs(t, d.Validate(resources), ErrFailed)
	})

	t.Run("resources must be present and unique", func(t *testing.T) {
		d := NewRegistrationData(1, "https://a.example/", "https://a.example/sw.js", 1)
		require.ErrorIs(t, d.Validate(nil), ErrFailed)
		require.ErrorIs(t, d.Validate(append(resources, resources[0])), ErrFailed)
	})
}

func TestTotalSizeAndIDs(t *testing.T) {
	resources := []ResourceRecord{
		{ResourceID: 3, URL: "https://a.example/sw.js", SizeBytes: 10},
		{ResourceID: 4, URL: "https://a.example/lib.js", SizeBytes: 32},
	}
	assert.Equal(t, int64(42), TotalSize(resources))
	assert.Equal(t, []ResourceID{3, 4}, ResourceIDs(resources))
}
