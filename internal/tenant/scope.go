// Package tenant models the set of stores a request is allowed to see.
package tenant

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Scope is an immutable, sorted, deduplicated set of store IDs.
// The empty scope is unrestricted: it sees every store.
type Scope struct {
	ids []int
}

// Unrestricted returns the administrative scope
func Unrestricted() Scope {
	return Scope{}
}

// New builds a scope from ids in any order, dropping duplicates
func New(ids ...int) Scope {
	if len(ids) == 0 {
		return Scope{}
	}
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return Scope{ids: out}
}

// IsUnrestricted reports whether the scope sees every store
func (s Scope) IsUnrestricted() bool {
	return len(s.ids) == 0
}

// StoreIDs returns a sorted copy of the store IDs
func (s Scope) StoreIDs() []int {
	out := make([]int, len(s.ids))
	copy(out, s.ids)
	return out
}

// Strings returns the sorted store IDs formatted as decimal strings
func (s Scope) Strings() []string {
	out := make([]string, len(s.ids))
	for i, id := range s.ids {
		out[i] = strconv.Itoa(id)
	}
	return out
}

// Contains reports whether id is an explicit member. An unrestricted scope
// contains no explicit members.
func (s Scope) Contains(id int) bool {
	i := sort.SearchInts(s.ids, id)
	return i < len(s.ids) && s.ids[i] == id
}

// Equal reports whether both scopes hold the same stores
func (s Scope) Equal(o Scope) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

func (s Scope) String() string {
	if s.IsUnrestricted() {
		return "unrestricted"
	}
	return fmt.Sprint(s.ids)
}

// MarshalJSON encodes the scope as a JSON array, never null
func (s Scope) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes a JSON array of store IDs
func (s *Scope) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = New(ids...)
	return nil
}

// NotSubsetError is returned when a requested store set reaches outside the
// caller's own scope
type NotSubsetError struct {
	Outside []int
}

func (e *NotSubsetError) Error() string {
	return fmt.Sprintf("requested stores %v are outside the caller's scope", e.Outside)
}

// ResolveRequested narrows own to the requested stores.
//
// An empty request resolves to all of own. An unrestricted own scope accepts
// any request as the final set. Otherwise every requested store must be a
// member of own.
func ResolveRequested(own Scope, requested []int) (Scope, error) {
	if len(requested) == 0 {
		return own, nil
	}
	req := New(requested...)
	if own.IsUnrestricted() {
		return req, nil
	}
	var outside []int
	for _, id := range req.ids {
		if !own.Contains(id) {
			outside = append(outside, id)
		}
	}
	if len(outside) > 0 {
		return Scope{}, &NotSubsetError{Outside: outside}
	}
	return req, nil
}
