package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type wsHub struct {
	mu     sync.Mutex
	topics map[string]map[*wsClient]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{
		topics: make(map[string]map[*wsClient]struct{}),
	}
}

// wsClient pairs a connection with a write lock. Gorilla allows one writer at
// a time, and broadcasts from concurrent operations (a client-triggered score
// racing the finalize timer) would otherwise interleave writes.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// wsSubscription is an explicit handle on a topic membership. Close releases
// it deterministically; the read loop defers Close so teardown never depends
// on hub internals.
type wsSubscription struct {
	hub    *wsHub
	topic  string
	client *wsClient
}

func (h *wsHub) Subscribe(topic string, conn *websocket.Conn) *wsSubscription {
	client := &wsClient{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.topics[topic]
	if group == nil {
		group = make(map[*wsClient]struct{})
		h.topics[topic] = group
	}
	group[client] = struct{}{}
	return &wsSubscription{hub: h, topic: topic, client: client}
}

func (sub *wsSubscription) Close() {
	sub.hub.remove(sub.topic, sub.client)
}

func (h *wsHub) remove(topic string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.topics[topic]
	if group == nil {
		return
	}
	delete(group, client)
	_ = client.conn.Close()
	if len(group) == 0 {
		delete(h.topics, topic)
	}
}

func (h *wsHub) Broadcast(topic string, payload any) {
	h.mu.Lock()
	group := h.topics[topic]
	clients := make([]*wsClient, 0, len(group))
	for client := range group {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	for _, client := range clients {
		if err := client.write(data); err != nil {
			h.remove(topic, client)
		}
	}
}

func (h *wsHub) subscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	code, err := validateRoomCode(r.PathValue("code"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if !s.roomExists(code) {
		http.NotFound(w, r)
		return
	}
	topic := phaseTopic(code)
	if r.URL.Query().Get("channel") == "lobby" {
		topic = lobbyTopic(code)
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	log.Printf("ws connected room_id=%s topic=%s remote=%s", code, topic, r.RemoteAddr)
	sub := s.hub.Subscribe(topic, conn)
	go s.readWS(code, sub)
}

func (s *Server) readWS(roomCode string, sub *wsSubscription) {
	defer sub.Close()
	for {
		if _, _, err := sub.client.conn.ReadMessage(); err != nil {
			log.Printf("ws disconnected room_id=%s error=%v", roomCode, err)
			return
		}
	}
}
