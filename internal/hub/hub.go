package hub

import (
	"encoding/json"
	"expvar"
	"log"
	"sync"
)

var displayClients = expvar.NewInt("display_clients")

// Subscription narrows what a display client receives. An empty queue type
// means everything, which is what a whole-clinic waiting-room board wants.
type Subscription struct {
	QueueType string
}

func (s Subscription) wants(meta Subscription) bool {
	return s.QueueType == "" || s.QueueType == meta.QueueType
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

// Hub fans queue events out to connected display clients. Senders never
// block: a client that cannot keep up loses messages, and the board
// self-corrects on the next event for its queue.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	QueueType string `json:"queue_type"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	displayClients.Set(int64(len(h.clients)))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
	displayClients.Set(int64(len(h.clients)))
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Broadcast(payload []byte, meta Subscription) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.Subscription.wants(meta) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("display client %s slow, dropping message", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
