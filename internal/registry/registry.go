// Package registry resolves device and channel metadata by key.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jpalmerr/telempoll/internal/telem"
)

// ErrNotFound is returned when a device or channel key is unknown.
var ErrNotFound = errors.New("not found")

// Registry is the metadata lookup consumed at configure time.
type Registry interface {
	// RetrieveDevice returns the device with the given key.
	RetrieveDevice(ctx context.Context, key string) (telem.Device, error)
	// RetrieveChannels returns the channels for keys in the same order.
	// Any missing key fails the whole lookup.
	RetrieveChannels(ctx context.Context, keys []telem.ChannelKey) ([]telem.Channel, error)
}

// MemoryRegistry is an in-memory Registry safe for concurrent use.
type MemoryRegistry struct {
	mu       sync.RWMutex
	devices  map[string]telem.Device
	channels map[telem.ChannelKey]telem.Channel
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		devices:  make(map[string]telem.Device),
		channels: make(map[telem.ChannelKey]telem.Channel),
	}
}

// PutDevice adds or replaces a device.
func (r *MemoryRegistry) PutDevice(d telem.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.Key] = d
}

// PutChannels adds or replaces channels.
func (r *MemoryRegistry) PutChannels(chs ...telem.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range chs {
		r.channels[ch.Key] = ch
	}
}

// RetrieveDevice implements Registry.
func (r *MemoryRegistry) RetrieveDevice(ctx context.Context, key string) (telem.Device, error) {
	if err := ctx.Err(); err != nil {
		return telem.Device{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[key]
	if !ok {
		return telem.Device{}, fmt.Errorf("device %q: %w", key, ErrNotFound)
	}
	return d, nil
}

// RetrieveChannels implements Registry.
func (r *MemoryRegistry) RetrieveChannels(ctx context.Context, keys []telem.ChannelKey) ([]telem.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]telem.Channel, 0, len(keys))
	var missing []telem.ChannelKey
	for _, k := range keys {
		ch, ok := r.channels[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		out = append(out, ch)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("channels %v: %w", missing, ErrNotFound)
	}
	return out, nil
}

// Channels returns every registered channel ordered by key.
func (r *MemoryRegistry) Channels() []telem.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]telem.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
