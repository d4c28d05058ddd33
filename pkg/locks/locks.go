// Package locks provides the per-cluster critical section.
package locks

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired in time
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

// Locker acquires a set of named locks. Keys are taken in sorted order so two
// callers locking overlapping sets cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// normalize sorts keys and drops empties and duplicates.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
