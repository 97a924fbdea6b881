package debate

import (
	"sync"

	"debate-arena/internal/store"
)

// FormatCache memoises resolved formats per (room, locale). Entries can be
// dropped and recomputed at any time.
type FormatCache struct {
	mu      sync.RWMutex
	entries map[formatKey][]store.TurnDescriptor
}

type formatKey struct {
	roomID string
	locale string
}

func NewFormatCache() *FormatCache {
	return &FormatCache{entries: map[formatKey][]store.TurnDescriptor{}}
}

func (c *FormatCache) Get(room store.Room, locale string) []store.TurnDescriptor {
	key := formatKey{roomID: room.ID, locale: NormalizeLocale(locale).String()}
	c.mu.RLock()
	turns, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		turns = ResolveFormat(room.Format, locale)
		c.mu.Lock()
		c.entries[key] = turns
		c.mu.Unlock()
	}
	out := make([]store.TurnDescriptor, len(turns))
	copy(out, turns)
	return out
}

// Invalidate drops every cached locale of a room.
func (c *FormatCache) Invalidate(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.roomID == roomID {
			delete(c.entries, k)
		}
	}
}
