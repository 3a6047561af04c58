package store

import (
	"sort"
	"sync"

	"github.com/jpalmerr/telempoll/internal/telem"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Subscribers receive updates via buffered channels (buffer size 100). If a
// subscriber's buffer is full the update is dropped for that subscriber.
type MemoryStore struct {
	mu       sync.RWMutex
	latest   *CycleStatus
	channels map[telem.ChannelKey]ChannelValue

	subMu       sync.RWMutex
	subscribers map[chan CycleStatus]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels:    make(map[telem.ChannelKey]ChannelValue),
		subscribers: make(map[chan CycleStatus]struct{}),
	}
}

// Update stores status, merges values, and notifies all subscribers.
//
// A value replaces the stored value for its key; channels absent from
// values keep their previous sample.
func (m *MemoryStore) Update(status CycleStatus, values []ChannelValue) {
	m.mu.Lock()
	m.latest = &status
	for _, v := range values {
		m.channels[v.Key] = v
	}
	m.mu.Unlock()

	m.notifySubscribers(status)
}

// Latest returns the most recent cycle.
func (m *MemoryStore) Latest() (CycleStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return CycleStatus{}, false
	}
	return *m.latest, true
}

// Channels returns a snapshot of the latest channel values ordered by key.
func (m *MemoryStore) Channels() []ChannelValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ChannelValue, 0, len(m.channels))
	for _, v := range m.channels {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe creates a new subscription.
//
// Caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan CycleStatus {
	ch := make(chan CycleStatus, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *MemoryStore) Unsubscribe(ch <-chan CycleStatus) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(status CycleStatus) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- status:
		default:
			// subscriber is slow, drop the update
		}
	}
}
