package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/em1l4k/docflow/internal/cache"
	"github.com/em1l4k/docflow/internal/logging"
)

// ErrRosterUnavailable is returned when a reload could not read or parse the
// roster source; the prior snapshot is retained.
var ErrRosterUnavailable = errors.New("roster unavailable")

func actorCacheKey(identity string) string {
	return "actor:" + identity
}

// RosterSource supplies the full set of roster entries on demand.
type RosterSource interface {
	// Load reads every roster entry. Entries that cannot be parsed are
	// skipped and reported in the returned skip count.
	Load(ctx context.Context) (entries []ActorEntry, skipped int, err error)
}

// Directory maps actor identities to roles and permission sets, mirroring the
// roster through a TTL cache. The roster snapshot is replaced wholesale on
// Reload; individual entries are never patched in place.
type Directory struct {
	source   RosterSource
	cache    *cache.Cache[string, ActorEntry]
	actorTTL time.Duration
	logger   *logging.Logger

	mux      sync.RWMutex
	snapshot map[string]ActorEntry
}

// NewDirectory creates a Directory over the given source and cache. It does
// not load the roster; call Reload before serving lookups.
func NewDirectory(source RosterSource, c *cache.Cache[string, ActorEntry], actorTTL time.Duration, logger *logging.Logger) *Directory {
	return &Directory{
		source:   source,
		cache:    c,
		actorTTL: actorTTL,
		logger:   logger,
		snapshot: make(map[string]ActorEntry),
	}
}

// Resolve returns the roster entry for identity, consulting the cache before
// the snapshot. Absent and inactive identities are equivalent denial states:
// both return false.
func (d *Directory) Resolve(identity string) (*ActorEntry, bool) {
	if entry, ok := d.cache.Get(actorCacheKey(identity)); ok {
		if !entry.Active {
			return nil, false
		}
		return &entry, true
	}

	// the cache write stays under the read lock so a miss racing Reload
	// cannot repopulate an entry the reload just invalidated
	d.mux.RLock()
	entry, ok := d.snapshot[identity]
	if ok {
		d.cache.Set(actorCacheKey(identity), entry, d.actorTTL)
	}
	d.mux.RUnlock()

	if !ok || !entry.Active {
		return nil, false
	}
	return &entry, true
}

// Reload re-reads the roster source and atomically replaces the snapshot. On
// failure the existing snapshot is kept: stale-but-valid data beats an empty
// directory. Returns the number of active entries after reload.
func (d *Directory) Reload(ctx context.Context) (int, error) {
	entries, skipped, err := d.source.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}
	if skipped > 0 {
		d.logger.Warn("roster lines skipped during reload", "skipped", skipped)
	}

	next := make(map[string]ActorEntry, len(entries))
	active := 0
	for _, e := range entries {
		next[e.Identity] = e
		if e.Active {
			active++
		}
	}

	// Cache invalidation and the snapshot swap share one critical section so
	// a reader cannot see the new snapshot alongside stale cached entries.
	d.mux.Lock()
	for identity := range d.snapshot {
		d.cache.Delete(actorCacheKey(identity))
	}
	d.snapshot = next
	d.mux.Unlock()

	d.logger.Info("roster reloaded", "entries", len(entries), "active", active)
	return active, nil
}

// Snapshot returns a copy of the current roster, active entries only.
func (d *Directory) Snapshot() []ActorEntry {
	d.mux.RLock()
	defer d.mux.RUnlock()

	out := make([]ActorEntry, 0, len(d.snapshot))
	for _, e := range d.snapshot {
		if e.Active {
			out = append(out, e)
		}
	}
	return out
}

// DisplayName resolves identity to a human-readable name, falling back to the
// identity itself when the roster does not know it.
func (d *Directory) DisplayName(identity string) string {
	d.mux.RLock()
	entry, ok := d.snapshot[identity]
	d.mux.RUnlock()
	if !ok || entry.FullName == "" {
		return identity
	}
	return entry.FullName
}
