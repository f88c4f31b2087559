// Package sse pushes notifications to connected clients over Server-Sent
// Events. The hub is the live leg of notification delivery; the persisted
// delivery rows remain the source of truth for who was notified.
package sse

import (
	"context"
	"sync"
	"time"
)

// Message is one pushed notification.
type Message struct {
	Title  string    `json:"title"`
	Body   string    `json:"message"`
	SentAt time.Time `json:"sent_at"`
}

type Hub struct {
	mu sync.RWMutex
	// clients maps a user id to that user's open streams.
	clients map[string][]chan Message
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string][]chan Message)}
}

// Subscribe opens a stream for userID. The stream closes itself when ctx is
// done, so handlers can just range over it.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Message {
	clientChan := make(chan Message, 10)

	h.mu.Lock()
	h.clients[userID] = append(h.clients[userID], clientChan)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(userID, clientChan)
	}()

	return clientChan
}

// Deliver pushes the notification to every open stream of userID. Slow
// clients with a full buffer are skipped rather than blocking the fanout.
// Deliver satisfies the notification service's Notifier interface.
func (h *Hub) Deliver(userID, title, message string) error {
	msg := Message{Title: title, Body: message, SentAt: time.Now()}

	// Sends stay under the read lock: remove closes streams under the write
	// lock, so a stream can never be closed mid-send. The sends are
	// non-blocking, so holding the lock here never stalls subscribers.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, clientChan := range h.clients[userID] {
		select {
		case clientChan <- msg:
		default:
		}
	}
	return nil
}

// ClientCount reports how many streams userID currently has open.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) remove(userID string, clientChan chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[userID]
	for i, ch := range clients {
		if ch == clientChan {
			h.clients[userID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}
