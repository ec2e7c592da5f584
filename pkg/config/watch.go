package config

import "sync"

// Watched is a shared GlobalConfig with multi-subscriber change
// notifications. Subscribers are woken on every Set and re-read the value
// with Get; the notification carries no payload so a slow subscriber only
// ever coalesces changes, it never blocks the writer.
type Watched struct {
	mu   sync.RWMutex
	v    GlobalConfig
	subs []chan struct{}
}

// NewWatched creates a watched cell holding v.
func NewWatched(v GlobalConfig) *Watched {
	return &Watched{v: v}
}

// Get returns the current value.
func (w *Watched) Get() GlobalConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.v
}

// Set replaces the value and notifies every subscriber.
func (w *Watched) Set(v GlobalConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.v = v
	for _, ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending notification.
		}
	}
}

// Subscribe registers a new change subscriber. The returned channel has a
// one-slot buffer: consecutive changes coalesce into a single wakeup. The
// returned cancel func removes the subscription; call it when the consumer
// exits so Set stops signaling a dead channel.
func (w *Watched) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, sub := range w.subs {
			if sub == ch {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}
