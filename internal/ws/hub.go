package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages live feed subscriptions by team ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

// message couples payload with team identifier.
type message struct {
	teamID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	teamID string
	client Subscriber
}

// NewHub creates an initialized Hub. buffer sizes the broadcast queue.
func NewHub(buffer int) *Hub {
	if buffer < 0 {
		buffer = 0
	}
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for teamID, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, teamID)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.teamID]; !ok {
				h.clients[sub.teamID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.teamID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.teamID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.teamID)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.teamID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.teamID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to a team feed.
func (h *Hub) Register(teamID string, client Subscriber) {
	select {
	case h.register <- subscription{teamID: teamID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(teamID string, client Subscriber) {
	select {
	case h.unreg <- subscription{teamID: teamID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to all clients of a team.
func (h *Hub) Broadcast(teamID string, payload []byte) {
	select {
	case h.broadcast <- message{teamID: teamID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients follow a team.
func (h *Hub) Subscribers(teamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[teamID])
}

// Close stops the hub and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
