// Package hub fans playback state changes out to connected clients. Each
// subscriber owns a capacity-1 channel: a slow reader skips intermediate
// revisions but always eventually observes the latest one, and never receives
// revisions out of order.
package hub

import (
	"sync"

	"andante/internal/playback"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Hub maintains the subscriber set for state-change notifications.
type Hub struct {
	mutex  sync.Mutex
	subs   map[string]chan playback.State
	logger *logrus.Logger
}

// New creates an empty hub.
func New() *Hub {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Hub{
		subs:   make(map[string]chan playback.State),
		logger: logger,
	}
}

// Subscribe registers a new listener and returns its id and channel. The
// caller must call Unsubscribe with the id when done.
func (h *Hub) Subscribe() (string, <-chan playback.State) {
	ch := make(chan playback.State, 1)
	id := uuid.NewString()

	h.mutex.Lock()
	h.subs[id] = ch
	count := len(h.subs)
	h.mutex.Unlock()

	h.logger.WithFields(logrus.Fields{
		"subscriber":  id,
		"subscribers": count,
	}).Debug("Subscriber connected")
	return id, ch
}

// Unsubscribe removes a listener. The channel is deliberately left open: the
// fan-out may still be delivering to it, and the subscriber has already
// stopped reading by the time it unsubscribes.
func (h *Hub) Unsubscribe(id string) {
	h.mutex.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mutex.Unlock()

	if ok {
		h.logger.WithField("subscriber", id).Debug("Subscriber disconnected")
	}
}

// Publish delivers a state to every subscriber. Delivery is latest-wins: if a
// subscriber has not drained the previous state yet it is replaced, so the
// fan-out never blocks on a slow reader and never holds the subscriber-set
// lock while delivering.
func (h *Hub) Publish(st playback.State) {
	h.mutex.Lock()
	channels := make([]chan playback.State, 0, len(h.subs))
	for _, ch := range h.subs {
		channels = append(channels, ch)
	}
	h.mutex.Unlock()

	for _, ch := range channels {
		select {
		case ch <- st:
		default:
			// Drop the undelivered older state and retry once. If another
			// publisher won the race, theirs is at least as new.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subs)
}
