package scheduler

import (
	"sort"
	"sync"
)

// ResourceLockManager serialises workers on file-scope entries. Wave
// selection already keeps overlapping scopes apart; workers additionally hold
// these locks while the agent runs so a late-arriving wave can never touch a
// scope still in use. Entries conflict when PathsOverlap says so, so a held
// "lib/auth/**" blocks "lib/*/login.go".
type ResourceLockManager struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]bool
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	r := &ResourceLockManager{
		held: make(map[string]bool),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Lock acquires the lock for a single scope entry.
func (r *ResourceLockManager) Lock(scope string) {
	r.LockAll([]string{scope})
}

// Unlock releases the lock for a single scope entry.
func (r *ResourceLockManager) Unlock(scope string) {
	r.UnlockAll([]string{scope})
}

// LockAll claims every entry of scope at once, waiting until none of them
// overlaps an entry held by another worker. Claiming all or nothing rules
// out lock-order deadlocks. Duplicate entries are claimed once.
func (r *ResourceLockManager) LockAll(scope []string) {
	keys := lockKeys(scope)
	if len(keys) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.conflicts(keys) {
		r.cond.Wait()
	}
	for _, k := range keys {
		r.held[k] = true
	}
}

// UnlockAll releases the entries claimed by LockAll.
func (r *ResourceLockManager) UnlockAll(scope []string) {
	keys := lockKeys(scope)
	if len(keys) == 0 {
		return
	}

	r.mu.Lock()
	for _, k := range keys {
		delete(r.held, k)
	}
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *ResourceLockManager) conflicts(keys []string) bool {
	for held := range r.held {
		for _, k := range keys {
			if PathsOverlap(held, k) {
				return true
			}
		}
	}
	return false
}

func lockKeys(scope []string) []string {
	if len(scope) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(scope))
	keys := make([]string, 0, len(scope))
	for _, s := range scope {
		k := cleanScope(s)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
