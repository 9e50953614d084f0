package gateway

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry is the process-wide map from connection key to the client
// subscriptions interested in it. A key is deleted exactly when its list
// drains; that transition is the sole trigger for upstream teardown.
type Registry struct {
	subs   map[ConnKey][]*Subscription
	logger *logrus.Logger
	mu     sync.RWMutex
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		subs:   make(map[ConnKey][]*Subscription),
		logger: logger,
	}
}

// Add appends sub to its key's list, creating the list if absent.
// Identical subscriptions are not deduplicated; subscribing twice appends
// two entries. Returns the resulting list length, so a return of 1 signals
// the first subscriber for the key.
func (r *Registry) Add(sub *Subscription) int {
	key := sub.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs[key] = append(r.subs[key], sub)
	return len(r.subs[key])
}

// Remove drops every entry for key matching both userID and connID.
// An identity may hold several simultaneous connections; only the matching
// connection's subscriptions are removed. Returns the removed entries and
// the resulting list length.
func (r *Registry) Remove(userID, connID string, key ConnKey) ([]*Subscription, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.subs[key]
	if !ok {
		return nil, 0
	}

	var removed []*Subscription
	kept := list[:0]
	for _, sub := range list {
		if sub.UserID == userID && sub.ConnID == connID {
			removed = append(removed, sub)
			continue
		}
		kept = append(kept, sub)
	}

	if len(kept) == 0 {
		delete(r.subs, key)
		return removed, 0
	}
	r.subs[key] = kept
	return removed, len(kept)
}

// RemoveAllForConnection drops every subscription held by connID across all
// keys, returning the keys whose lists drained as a result. Used on
// disconnect; the connection handle is unique to one identity for its
// lifetime, so no identity filter is needed.
func (r *Registry) RemoveAllForConnection(connID string) []ConnKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var drained []ConnKey
	for key, list := range r.subs {
		kept := list[:0]
		for _, sub := range list {
			if sub.ConnID != connID {
				kept = append(kept, sub)
			}
		}
		if len(kept) == 0 {
			delete(r.subs, key)
			drained = append(drained, key)
		} else {
			r.subs[key] = kept
		}
	}
	return drained
}

// ForKey returns a snapshot of the subscriptions registered for key
func (r *Registry) ForKey(key ConnKey) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.subs[key]
	out := make([]*Subscription, len(list))
	copy(out, list)
	return out
}

// ListAll returns a snapshot of every registered subscription
func (r *Registry) ListAll() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Subscription
	for _, list := range r.subs {
		out = append(out, list...)
	}
	return out
}

// Count returns the total number of registered subscriptions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.subs {
		n += len(list)
	}
	return n
}

// Clear empties the registry, used on server shutdown
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[ConnKey][]*Subscription)
}
