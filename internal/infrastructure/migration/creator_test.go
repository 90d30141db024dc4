package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"create_usage_events", "create_usage_events"},
		{"Add Wallet Version", "add_wallet_version"},
		{"  billing--records  ", "billing_records"},
		{"drop: legacy (table)!", "drop_legacy_table"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, slugify(tt.in))
		})
	}
}

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	f, err := Create(dir, "create usage events")
	require.NoError(t, err)
	assert.Equal(t, uint(1), f.Version)
	assert.Equal(t, filepath.Join(dir, "000001_create_usage_events.up.sql"), f.UpPath)
	assert.FileExists(t, f.UpPath)
	assert.FileExists(t, f.DownPath)

	body, err := os.ReadFile(f.UpPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), "-- create_usage_events")
	assert.Contains(t, string(body), "BEGIN;")

	f2, err := Create(dir, "add wallet index")
	require.NoError(t, err)
	assert.Equal(t, uint(2), f2.Version)

	_, err = Create(dir, "???")
	assert.Error(t, err)
}

func TestCreate_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "migrations")
	_, err := Create(dir, "init")
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_create_billing_records.up.sql",
		"000002_create_billing_records.down.sql",
		"000001_create_usage_events.up.sql",
		"000001_create_usage_events.down.sql",
		"000010_later.up.sql",
		"README.md",
		"notanumber_x.up.sql",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, uint(1), files[0].Version)
	assert.Equal(t, "create_usage_events", files[0].Name)
	assert.Equal(t, uint(2), files[1].Version)
	assert.Equal(t, uint(10), files[2].Version)
}

func TestList_NonexistentDirectory(t *testing.T) {
	files, err := List(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
