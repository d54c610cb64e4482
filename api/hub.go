package api

import (
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/lukasbals/scraty/domain"
)

// Hub owns the set of connected observers. All membership changes go
// through Register/Unregister/Broadcast; nothing else touches the set.
type Hub struct {
	logger *log.Logger

	mu        sync.Mutex
	observers map[*observer]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{logger: logger, observers: make(map[*observer]struct{})}
}

// Register adds an observer. Re-registering a present observer is harmless.
func (h *Hub) Register(o *observer) {
	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes an observer; removing an absent one is a no-op.
func (h *Hub) Unregister(o *observer) {
	h.mu.Lock()
	delete(h.observers, o)
	h.mu.Unlock()
}

// Broadcast serializes ev once and attempts delivery to every observer
// registered at the time of the call. Observers that reject the write are
// pruned after the delivery pass. Broadcast never reports failure: fan-out
// is fire-and-forget and must not affect the mutation that triggered it.
func (h *Hub) Broadcast(ev domain.ChangeEvent) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("marshal change event")
		return
	}

	// Snapshot under the lock, deliver outside it. A concurrent
	// Unregister cannot disturb the pass; at worst a just-departed
	// observer gets one enqueue attempt that fails harmlessly.
	h.mu.Lock()
	snapshot := make([]*observer, 0, len(h.observers))
	for o := range h.observers {
		snapshot = append(snapshot, o)
	}
	h.mu.Unlock()

	var dead []*observer
	for _, o := range snapshot {
		if !o.enqueue(payload) {
			dead = append(dead, o)
		}
	}
	for _, o := range dead {
		h.Unregister(o)
		o.close()
		h.logger.WithField("remote", o.remoteAddr()).Debug("pruned dead observer")
	}
}

func (h *Hub) observerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}
