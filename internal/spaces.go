package internal

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrAlreadyMember is reported when an add targets a user who is already on
// the member list. Callers treat it as recoverable, not fatal.
var ErrAlreadyMember = errors.New("already a member")

// ErrUnknownSpace is returned for operations against a space id the registry
// has never seen.
var ErrUnknownSpace = errors.New("unknown space")

// Space is a named, membership-restricted chat room. The creator is always
// the first member. The hub-side registry leaves Messages empty; only each
// client's cache accumulates the log.
type Space struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Members  []string  `json:"members"`
	Messages []Message `json:"messages"`
}

// HasMember reports whether the given user id is on the member list.
func (s Space) HasMember(userID string) bool {
	for _, member := range s.Members {
		if member == userID {
			return true
		}
	}
	return false
}

// SpaceRegistry is the authority for space membership on the hub. Dispatch
// re-reads it for every targeted envelope, so a member added mid-session
// starts receiving immediately.
type SpaceRegistry struct {
	mutex  sync.RWMutex
	spaces map[string]*Space
	order  []string
	lastID int64
}

func NewSpaceRegistry() *SpaceRegistry {
	return &SpaceRegistry{spaces: make(map[string]*Space)}
}

// Create mints a new space. The id is time-derived like the original client's
// Date.now() ids, bumped until it is unique among known spaces. Members are
// the creator first, then the requested ids with duplicates removed.
func (r *SpaceRegistry) Create(name, creatorID string, memberIDs []string) Space {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := time.Now().UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id

	members := []string{creatorID}
	seen := map[string]bool{creatorID: true}
	for _, member := range memberIDs {
		if member == "" || seen[member] {
			continue
		}
		seen[member] = true
		members = append(members, member)
	}

	space := &Space{
		ID:      strconv.FormatInt(id, 10),
		Name:    name,
		Members: members,
	}
	r.spaces[space.ID] = space
	r.order = append(r.order, space.ID)
	return copySpace(space)
}

// AddMember appends a user to a space's member list. Duplicates are rejected
// with ErrAlreadyMember and leave the list unchanged.
func (r *SpaceRegistry) AddMember(spaceID, userID string) (Space, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	space, exists := r.spaces[spaceID]
	if !exists {
		return Space{}, ErrUnknownSpace
	}
	if space.HasMember(userID) {
		return copySpace(space), ErrAlreadyMember
	}
	space.Members = append(space.Members, userID)
	return copySpace(space), nil
}

// RemoveMember undoes a member append. Used to roll the registry back when
// persisting the change fails, so a retry sees the same state the store does.
// Removing an absent member or targeting an unknown space is a no-op.
func (r *SpaceRegistry) RemoveMember(spaceID, userID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	space, exists := r.spaces[spaceID]
	if !exists {
		return
	}
	remaining := space.Members[:0]
	for _, member := range space.Members {
		if member != userID {
			remaining = append(remaining, member)
		}
	}
	space.Members = remaining
}

// Remove drops a space from the registry entirely. Used to roll a create back
// when persisting the new space fails.
func (r *SpaceRegistry) Remove(spaceID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.spaces[spaceID]; !exists {
		return
	}
	delete(r.spaces, spaceID)
	order := r.order[:0]
	for _, id := range r.order {
		if id != spaceID {
			order = append(order, id)
		}
	}
	r.order = order
}

// Members returns the current member list for a space, or nil if the space is
// unknown.
func (r *SpaceRegistry) Members(spaceID string) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	space, exists := r.spaces[spaceID]
	if !exists {
		return nil
	}
	return append([]string(nil), space.Members...)
}

// Get returns a copy of the space record.
func (r *SpaceRegistry) Get(spaceID string) (Space, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	space, exists := r.spaces[spaceID]
	if !exists {
		return Space{}, false
	}
	return copySpace(space), true
}

// ListFor returns the spaces whose member list contains the given user, in
// insertion order so listings stay deterministic.
func (r *SpaceRegistry) ListFor(userID string) []Space {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var result []Space
	for _, id := range r.order {
		space := r.spaces[id]
		if space.HasMember(userID) {
			result = append(result, copySpace(space))
		}
	}
	return result
}

// Restore installs a previously persisted space without minting a new id.
// Used when the server reloads its registry from the store at startup.
func (r *SpaceRegistry) Restore(space Space) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.spaces[space.ID]; exists {
		return
	}
	stored := copySpace(&space)
	r.spaces[space.ID] = &stored
	r.order = append(r.order, space.ID)
	if id, err := strconv.ParseInt(space.ID, 10, 64); err == nil && id > r.lastID {
		r.lastID = id
	}
}

func copySpace(space *Space) Space {
	return Space{
		ID:       space.ID,
		Name:     space.Name,
		Members:  append([]string(nil), space.Members...),
		Messages: append([]Message(nil), space.Messages...),
	}
}
