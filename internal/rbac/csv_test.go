package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/em1l4k/docflow/internal/logging"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whitelist.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCSVRosterLoad(t *testing.T) {
	path := writeRoster(t, `identity,role,full_name,is_active
alice,manager,Alice Liddell,true
bob,employee,Bob,false
carol,admin,Carol,yes
`)
	roster := NewCSVRoster(path, logging.NewLogger("error"))

	entries, skipped, err := roster.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, entries, 3)
	assert.Equal(t, RoleManager, entries[0].Role)
	assert.False(t, entries[1].Active)
	assert.True(t, entries[2].Active)
}

func TestCSVRosterSkipsBadLines(t *testing.T) {
	path := writeRoster(t, `identity,role,full_name,is_active
alice,manager,Alice,true
dave,overlord,Dave,true
,employee,No Identity,true
erin,employee,Erin,1
`)
	roster := NewCSVRoster(path, logging.NewLogger("error"))

	entries, skipped, err := roster.Load(context.Background())
	require.NoError(t, err)
	// unknown role and empty identity are rejected individually
	assert.Equal(t, 2, skipped)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].Identity)
	assert.Equal(t, "erin", entries[1].Identity)
}

func TestCSVRosterMissingFile(t *testing.T) {
	roster := NewCSVRoster(filepath.Join(t.TempDir(), "nope.csv"), logging.NewLogger("error"))

	_, _, err := roster.Load(context.Background())
	assert.Error(t, err)
}

func TestCSVRosterBadHeader(t *testing.T) {
	path := writeRoster(t, `name,team
alice,manager
`)
	roster := NewCSVRoster(path, logging.NewLogger("error"))

	_, _, err := roster.Load(context.Background())
	assert.Error(t, err)
}

func TestCSVRosterActiveDefaultsTrue(t *testing.T) {
	path := writeRoster(t, `identity,role,full_name
alice,manager,Alice
`)
	roster := NewCSVRoster(path, logging.NewLogger("error"))

	entries, _, err := roster.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Active)
}
