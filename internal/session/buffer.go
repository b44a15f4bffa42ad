package session

import (
	"sync"
	"time"

	"pkt.systems/relayd/internal/protocol"
)

// Buffer is the in-memory inbound message log. Messages are kept in arrival
// order and indexed by protocol id. A zero max keeps the log unbounded.
type Buffer struct {
	mu    sync.RWMutex
	max   int
	order []string
	byID  map[string]protocol.Message
}

// NewBuffer returns an empty buffer. When max > 0 the oldest entry is evicted
// on overflow.
func NewBuffer(max int) *Buffer {
	if max < 0 {
		max = 0
	}
	return &Buffer{max: max, byID: make(map[string]protocol.Message)}
}

// Record appends msg. It reports false when msg has no id or the id is
// already stored. evicted is the id dropped to honour the size cap, if any.
func (b *Buffer) Record(msg protocol.Message) (added bool, evicted string) {
	if msg.ID == "" {
		return false, ""
	}
	msg = cloneMessage(msg)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.byID[msg.ID]; exists {
		return false, ""
	}
	if b.max > 0 && len(b.order) >= b.max {
		evicted = b.order[0]
		b.order = b.order[1:]
		delete(b.byID, evicted)
	}
	b.order = append(b.order, msg.ID)
	b.byID[msg.ID] = msg
	return true, evicted
}

// List returns a snapshot of every message in arrival order. Returned
// messages are copies and may be modified freely.
func (b *Buffer) List() []protocol.Message {
	return b.Select(time.Time{}, 0)
}

// Select returns messages received at or after since, capped at limit
// entries when limit > 0. A zero since matches everything.
func (b *Buffer) Select(since time.Time, limit int) []protocol.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]protocol.Message, 0, len(b.order))
	for _, id := range b.order {
		msg := b.byID[id]
		if !since.IsZero() && msg.Timestamp.Before(since) {
			continue
		}
		out = append(out, cloneMessage(msg))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Get looks up a message by id.
func (b *Buffer) Get(id string) (protocol.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msg, ok := b.byID[id]
	if !ok {
		return protocol.Message{}, false
	}
	return cloneMessage(msg), true
}

// Len reports the number of stored messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Clear empties the buffer and returns how many messages were dropped.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.order)
	b.order = nil
	b.byID = make(map[string]protocol.Message)
	return n
}

// Sweep drops messages whose timestamp is before cutoff.
func (b *Buffer) Sweep(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.order[:0]
	removed := 0
	for _, id := range b.order {
		if b.byID[id].Timestamp.Before(cutoff) {
			delete(b.byID, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
	return removed
}

func cloneMessage(msg protocol.Message) protocol.Message {
	if msg.Media != nil {
		media := *msg.Media
		if len(media.Data) > 0 {
			media.Data = append([]byte(nil), media.Data...)
		}
		msg.Media = &media
	}
	return msg
}
