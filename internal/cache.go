package internal

import (
	"encoding/json"
	"fmt"
)

// fixed cache keys, matching the original client's localStorage layout
const (
	cacheKeyPublicLog = "publicMessages"
	cacheKeySpaces    = "spaces"
)

// Cache is the durable key/value contract the sync engine consumes. Both
// operations are synchronous and durable on return. A cache failure is fatal
// for the client session; the core never retries internally.
type Cache interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// loadPublicLog reads the public channel's message log. An absent key is an
// empty log.
func loadPublicLog(cache Cache) ([]Message, error) {
	raw, ok, err := cache.Get(cacheKeyPublicLog)
	if err != nil {
		return nil, fmt.Errorf("read public log: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decode public log: %w", err)
	}
	return messages, nil
}

func appendPublicMessage(cache Cache, message Message) error {
	messages, err := loadPublicLog(cache)
	if err != nil {
		return err
	}
	messages = append(messages, message)
	encoded, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	if err := cache.Put(cacheKeyPublicLog, string(encoded)); err != nil {
		return fmt.Errorf("write public log: %w", err)
	}
	return nil
}

// loadSpaceMap reads the space-id to space record mapping.
func loadSpaceMap(cache Cache) (map[string]Space, error) {
	raw, ok, err := cache.Get(cacheKeySpaces)
	if err != nil {
		return nil, fmt.Errorf("read spaces: %w", err)
	}
	spaces := make(map[string]Space)
	if !ok {
		return spaces, nil
	}
	if err := json.Unmarshal([]byte(raw), &spaces); err != nil {
		return nil, fmt.Errorf("decode spaces: %w", err)
	}
	return spaces, nil
}

func saveSpaceMap(cache Cache, spaces map[string]Space) error {
	encoded, err := json.Marshal(spaces)
	if err != nil {
		return err
	}
	if err := cache.Put(cacheKeySpaces, string(encoded)); err != nil {
		return fmt.Errorf("write spaces: %w", err)
	}
	return nil
}

// saveSpace writes one space record into the cached map, replacing any
// previous record with the same id.
func saveSpace(cache Cache, space Space) error {
	spaces, err := loadSpaceMap(cache)
	if err != nil {
		return err
	}
	spaces[space.ID] = space
	return saveSpaceMap(cache, spaces)
}

// appendSpaceMessage appends to the named space's log. A space id the cache
// has never seen is tolerated as a no-op; the receive path must not fail on
// it and the other cached spaces stay untouched.
func appendSpaceMessage(cache Cache, spaceID string, message Message) (bool, error) {
	spaces, err := loadSpaceMap(cache)
	if err != nil {
		return false, err
	}
	space, known := spaces[spaceID]
	if !known {
		return false, nil
	}
	space.Messages = append(space.Messages, message)
	spaces[spaceID] = space
	if err := saveSpaceMap(cache, spaces); err != nil {
		return false, err
	}
	return true, nil
}

// cachedSpacesFor lists the cached spaces whose member list contains the
// given user id.
func cachedSpacesFor(cache Cache, userID string) ([]Space, error) {
	spaces, err := loadSpaceMap(cache)
	if err != nil {
		return nil, err
	}
	var result []Space
	for _, space := range spaces {
		if space.HasMember(userID) {
			result = append(result, space)
		}
	}
	return result, nil
}
