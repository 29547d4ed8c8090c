package ledger

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ReservedLogins is the read-mostly set of logins (e.g. "admin", "bank")
// that no caller may create, rename or delete through the ordinary
// account-creation path. Backed by an LRU cache rather than a plain map
// so it can be wholesale reloaded on config change without handlers
// ever seeing a half-updated set.
//
// Adopted from LeJamon-goXRPLd's use of hashicorp/golang-lru for
// read-mostly in-process caches.
type ReservedLogins struct {
	set *lru.Cache[string, struct{}]
}

// NewReservedLogins builds a ReservedLogins set from a configured list.
func NewReservedLogins(logins []string) *ReservedLogins {
	c, _ := lru.New[string, struct{}](256)
	for _, l := range logins {
		c.Add(l, struct{}{})
	}
	return &ReservedLogins{set: c}
}

// Contains reports whether login is reserved.
func (r *ReservedLogins) Contains(login string) bool {
	if r == nil || r.set == nil {
		return false
	}
	_, ok := r.set.Get(login)
	return ok
}

// Reload replaces the set contents atomically from the caller's point
// of view: a fresh cache is built, then swapped in.
func (r *ReservedLogins) Reload(logins []string) {
	c, _ := lru.New[string, struct{}](256)
	for _, l := range logins {
		c.Add(l, struct{}{})
	}
	r.set = c
}
