// Package ws serves the relay WebSocket endpoint. A single hub goroutine owns
// the set of connected clients; each connection runs one read pump, which
// hands frames to the relay in receipt order, and one write pump.
package ws

import (
	"context"

	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/core/logger"
	"github.com/kilianp07/mutorelay/core/protocol"
)

type broadcastReq struct {
	frame []byte
	reply chan int
}

// Hub maintains the set of active clients and broadcasts frames.
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastReq
	count      chan chan int
	done       chan struct{}

	onCount func(int)
	log     logger.Logger
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithClientCountHook is called from the hub goroutine after every
// registration change. It must not block.
func WithClientCountHook(f func(n int)) HubOption {
	return func(h *Hub) { h.onCount = f }
}

// WithHubLogger sets the hub logger.
func WithHubLogger(l logger.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastReq),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		onCount:    func(int) {},
		log:        nopLogger{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run is the hub event loop. When ctx is done every client is disconnected
// and later calls become no-ops.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			c.close()
			delete(h.clients, c)
		}
		h.onCount(0)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Infof("client %s connected (total clients: %d)", c.id, len(h.clients))
			h.onCount(len(h.clients))
		case c := <-h.unregister:
			h.remove(c)
		case req := <-h.broadcast:
			req.reply <- h.fanOut(req.frame)
		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	h.log.Infof("client %s disconnected (remaining clients: %d)", c.id, len(h.clients))
	h.onCount(len(h.clients))
}

func (h *Hub) fanOut(frame []byte) int {
	n := 0
	for c := range h.clients {
		if c.Send(frame) {
			n++
			continue
		}
		// send buffer full: the client is too slow to keep
		h.log.Warnf("dropping slow client %s", c.id)
		h.remove(c)
	}
	return n
}

// Broadcast sends frame to every connected client and returns the number of
// recipients.
func (h *Hub) Broadcast(frame []byte) int {
	req := broadcastReq{frame: frame, reply: make(chan int, 1)}
	select {
	case h.broadcast <- req:
		return <-req.reply
	case <-h.done:
		return 0
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// StatusSource publishes hardware status transitions.
type StatusSource interface {
	Status() hardware.Status
	Updates() <-chan hardware.Status
	Unsubscribe(<-chan hardware.Status)
}

// StatusFrame builds the "status" frame for st.
func StatusFrame(st hardware.Status) []byte {
	b, _ := protocol.Encode(protocol.EventStatus, st)
	return b
}

// ForwardStatus broadcasts every hardware status transition until ctx is
// done or the source stops publishing.
func (h *Hub) ForwardStatus(ctx context.Context, src StatusSource) {
	sub := src.Updates()
	go func() {
		defer src.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-sub:
				if !ok {
					return
				}
				h.Broadcast(StatusFrame(st))
			}
		}
	}()
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
