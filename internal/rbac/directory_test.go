package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/em1l4k/docflow/internal/cache"
	"github.com/em1l4k/docflow/internal/logging"
)

type stubRoster struct {
	entries []ActorEntry
	skipped int
	err     error
}

func (s *stubRoster) Load(ctx context.Context) ([]ActorEntry, int, error) {
	return s.entries, s.skipped, s.err
}

func newTestDirectory(source RosterSource) (*Directory, *cache.Cache[string, ActorEntry]) {
	c := cache.New[string, ActorEntry](5 * time.Minute)
	d := NewDirectory(source, c, 5*time.Minute, logging.NewLogger("error"))
	return d, c
}

func TestHasPermission(t *testing.T) {
	employee := &ActorEntry{Identity: "e1", Role: RoleEmployee, Active: true}
	manager := &ActorEntry{Identity: "m1", Role: RoleManager, Active: true}
	admin := &ActorEntry{Identity: "a1", Role: RoleAdmin, Active: true}

	assert.True(t, HasPermission(employee, PermUploadDocuments))
	assert.False(t, HasPermission(employee, PermApproveDocuments))
	assert.True(t, HasPermission(manager, PermApproveDocuments))
	assert.True(t, HasPermission(manager, PermDelegateApproval))
	assert.False(t, HasPermission(manager, PermManageUsers))
	assert.True(t, HasPermission(admin, PermManageWorkflows))
	assert.False(t, HasPermission(nil, PermViewDocuments))
}

func TestHasPermissionIsPure(t *testing.T) {
	entry := &ActorEntry{Identity: "m1", Role: RoleManager, Active: true}
	for i := 0; i < 100; i++ {
		assert.True(t, HasPermission(entry, PermApproveDocuments))
		assert.False(t, HasPermission(entry, PermViewStatistics))
	}
}

func TestResolve(t *testing.T) {
	source := &stubRoster{entries: []ActorEntry{
		{Identity: "alice", Role: RoleManager, FullName: "Alice", Active: true},
		{Identity: "bob", Role: RoleEmployee, FullName: "Bob", Active: false},
	}}
	d, c := newTestDirectory(source)
	_, err := d.Reload(context.Background())
	require.NoError(t, err)

	entry, ok := d.Resolve("alice")
	require.True(t, ok)
	assert.Equal(t, RoleManager, entry.Role)

	// the resolve populated the per-identity cache entry
	_, cached := c.Get("actor:alice")
	assert.True(t, cached)

	// inactive entries exist in the snapshot but resolve as absent
	_, ok = d.Resolve("bob")
	assert.False(t, ok)

	_, ok = d.Resolve("nobody")
	assert.False(t, ok)
}

func TestReloadCountsActiveOnly(t *testing.T) {
	source := &stubRoster{entries: []ActorEntry{
		{Identity: "alice", Role: RoleManager, Active: true},
		{Identity: "bob", Role: RoleEmployee, Active: false},
	}}
	d, _ := newTestDirectory(source)

	count, err := d.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReloadInvalidatesRemovedIdentity(t *testing.T) {
	source := &stubRoster{entries: []ActorEntry{
		{Identity: "alice", Role: RoleManager, Active: true},
	}}
	d, _ := newTestDirectory(source)
	_, err := d.Reload(context.Background())
	require.NoError(t, err)

	// warm the cache
	_, ok := d.Resolve("alice")
	require.True(t, ok)

	// alice disappears from the roster; the cached entry must not survive
	source.entries = nil
	_, err = d.Reload(context.Background())
	require.NoError(t, err)

	_, ok = d.Resolve("alice")
	assert.False(t, ok)
}

func TestReloadFailureKeepsSnapshot(t *testing.T) {
	source := &stubRoster{entries: []ActorEntry{
		{Identity: "alice", Role: RoleManager, Active: true},
	}}
	d, _ := newTestDirectory(source)
	_, err := d.Reload(context.Background())
	require.NoError(t, err)

	source.err = errors.New("disk gone")
	_, err = d.Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRosterUnavailable))

	// stale-but-valid beats empty
	_, ok := d.Resolve("alice")
	assert.True(t, ok)
}

func TestResolveRacingReloadCannotRevive(t *testing.T) {
	alice := []ActorEntry{{Identity: "alice", Role: RoleManager, Active: true}}
	source := &stubRoster{entries: alice}
	d, _ := newTestDirectory(source)
	_, err := d.Reload(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				d.Resolve("alice")
			}
		}
	}()

	// flip alice in and out of the roster; once a removing reload has
	// returned, no concurrent resolve may have repopulated her cache entry
	for i := 0; i < 200; i++ {
		source.entries = alice
		_, err := d.Reload(context.Background())
		require.NoError(t, err)

		source.entries = nil
		_, err = d.Reload(context.Background())
		require.NoError(t, err)

		_, ok := d.Resolve("alice")
		require.False(t, ok)
	}
	close(done)
	wg.Wait()
}

func TestDisplayName(t *testing.T) {
	source := &stubRoster{entries: []ActorEntry{
		{Identity: "alice", Role: RoleManager, FullName: "Alice Liddell", Active: true},
	}}
	d, _ := newTestDirectory(source)
	_, err := d.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Alice Liddell", d.DisplayName("alice"))
	assert.Equal(t, "ghost", d.DisplayName("ghost"))
}
