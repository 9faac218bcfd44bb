package internal

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrCacheFailed marks a failed durable write. A session cannot keep its
// ordering guarantees once the cache stops accepting updates, so callers treat
// it as fatal. Test with errors.Is.
var ErrCacheFailed = errors.New("cache update failed")

// Notifier is the rendering callback surface. The engine invokes it from a
// dedicated goroutine after the cache write has completed, so a slow renderer
// can never block the receive path.
type Notifier interface {
	OnPublicMessage(Message)
	OnSpaceMessage(spaceID string, message Message)
}

type syncNotification struct {
	spaceID string
	message Message
	public  bool
}

// SyncEngine reconciles the live envelope stream with the client's durable
// cache: cache first, then notify. It is the client-side half of the sync
// protocol.
type SyncEngine struct {
	cache    Cache
	notifier Notifier

	queue    chan syncNotification
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSyncEngine(cache Cache, notifier Notifier) *SyncEngine {
	engine := &SyncEngine{
		cache:    cache,
		notifier: notifier,
		queue:    make(chan syncNotification, 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go engine.notifyLoop()
	return engine
}

// Stop drains nothing and waits for the notify loop to exit.
func (engine *SyncEngine) Stop() {
	engine.stopOnce.Do(func() { close(engine.quit) })
	<-engine.done
}

// Apply processes one inbound wire frame: decode, update the cache, queue the
// render notification. A malformed frame is reported as an error so the
// caller can log and discard it; a cache failure is fatal for the session and
// is surfaced wrapped in ErrCacheFailed.
func (engine *SyncEngine) Apply(payload []byte) error {
	envelope, err := ParseEnvelope(payload)
	if err != nil {
		return err
	}
	switch envelope.Kind {
	case KindChat:
		message, err := envelope.ChatMessage()
		if err != nil {
			return err
		}
		if err := appendPublicMessage(engine.cache, message); err != nil {
			return fmt.Errorf("%w: %w", ErrCacheFailed, err)
		}
		engine.enqueue(syncNotification{public: true, message: message})
	case KindSpace:
		spacePayload, err := envelope.SpacePayload()
		if err != nil {
			return err
		}
		known, err := appendSpaceMessage(engine.cache, spacePayload.SpaceID, spacePayload.Message)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCacheFailed, err)
		}
		if !known {
			// the receiver has never seen this space; tolerated as a no-op
			return nil
		}
		engine.enqueue(syncNotification{spaceID: spacePayload.SpaceID, message: spacePayload.Message})
	}
	return nil
}

// PublicLog returns the cached public channel history.
func (engine *SyncEngine) PublicLog() ([]Message, error) {
	return loadPublicLog(engine.cache)
}

// Space returns the cached record for one space.
func (engine *SyncEngine) Space(spaceID string) (Space, bool, error) {
	spaces, err := loadSpaceMap(engine.cache)
	if err != nil {
		return Space{}, false, err
	}
	space, ok := spaces[spaceID]
	return space, ok, nil
}

// SpacesFor lists the cached spaces the user belongs to.
func (engine *SyncEngine) SpacesFor(userID string) ([]Space, error) {
	return cachedSpacesFor(engine.cache, userID)
}

// RememberSpace stores a space record in the cache, typically after a create
// or an invite fetched over the API.
func (engine *SyncEngine) RememberSpace(space Space) error {
	return saveSpace(engine.cache, space)
}

func (engine *SyncEngine) enqueue(notification syncNotification) {
	select {
	case engine.queue <- notification:
	default:
		// the renderer is far behind; it re-reads the cache on its next
		// paint, so a missed notification is only a missed repaint.
		log.Printf("notification queue full, dropping repaint")
	}
}

func (engine *SyncEngine) notifyLoop() {
	defer close(engine.done)
	for {
		select {
		case <-engine.quit:
			return
		case notification := <-engine.queue:
			if engine.notifier == nil {
				continue
			}
			if notification.public {
				engine.notifier.OnPublicMessage(notification.message)
			} else {
				engine.notifier.OnSpaceMessage(notification.spaceID, notification.message)
			}
		}
	}
}
