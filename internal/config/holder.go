package config

import "sync/atomic"

// Holder publishes an immutable configuration snapshot. Readers call
// Current and always see a fully-formed Config; a reload builds and
// validates a complete new Config and publishes it with Swap. No field
// is ever mutated in place after publication.
type Holder struct {
	ptr atomic.Pointer[Config]
}

// NewHolder creates a Holder publishing the given initial snapshot.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.ptr.Store(cfg)
	return h
}

// Current returns the currently published configuration snapshot.
func (h *Holder) Current() *Config {
	return h.ptr.Load()
}

// Swap atomically publishes a new configuration snapshot.
func (h *Holder) Swap(cfg *Config) {
	h.ptr.Store(cfg)
}
