package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EMPTY_SNAPSHOT_POLICY", "")
	t.Setenv("SCROLL_DELAY_MS", "")
	t.Setenv("STALL_LIMIT", "")
	t.Setenv("MAX_ATTEMPTS", "")

	cfg := Load()

	assert.Equal(t, EmptySkip, cfg.EmptySnapshotPolicy)
	assert.False(t, cfg.CommitEmpty())
	assert.Equal(t, 1500*time.Millisecond, cfg.ScrollDelay)
	assert.Equal(t, 5, cfg.StallLimit)
	assert.Equal(t, 100, cfg.MaxAttempts)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EMPTY_SNAPSHOT_POLICY", "COMMIT")
	t.Setenv("COMPLEXES", " 101, 202 ,,303")
	t.Setenv("STALL_LIMIT", "not-a-number")
	t.Setenv("HEADLESS", "false")

	cfg := Load()

	assert.True(t, cfg.CommitEmpty())
	assert.Equal(t, []string{"101", "202", "303"}, cfg.Complexes)
	assert.Equal(t, 5, cfg.StallLimit, "invalid int should fall back to default")
	assert.False(t, cfg.Headless)
}

func TestUnknownEmptyPolicyFallsBackToSkip(t *testing.T) {
	t.Setenv("EMPTY_SNAPSHOT_POLICY", "explode")

	cfg := Load()

	assert.Equal(t, EmptySkip, cfg.EmptySnapshotPolicy)
}

func TestTrackedComplexesMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "complexes.yaml")
	content := "complexes:\n  - id: \"202\"\n    name: Dup\n  - id: \"404\"\n    name: New\n  - name: Missing id\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := &Config{Complexes: []string{"101", "202"}, ComplexesFile: path}

	ids, err := cfg.TrackedComplexes()
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "202", "404"}, ids)
}

func TestComplexNamesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "complexes.yaml")
	content := "complexes:\n  - id: \"202\"\n    name: \" Lake Park \"\n  - id: \"202\"\n    name: Later\n  - id: \"404\"\n  - name: Missing id\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	names, err := (&Config{ComplexesFile: path}).ComplexNames()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"202": "Lake Park"}, names)

	none, err := (&Config{Complexes: []string{"101"}}).ComplexNames()
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLoadComplexesFileMissing(t *testing.T) {
	_, err := LoadComplexesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
