package websocket

import (
	"encoding/json"
	"sync"

	"github.com/backsoul/partidas/pkg/logger"
	"github.com/fasthttp/websocket"
)

// Client es la parte de *websocket.Conn que usa el hub
type Client interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Hub reparte eventos entre los clientes suscritos a cada partida.
// Todas las escrituras a los clientes se hacen desde Run.
type Hub struct {
	rooms      map[string]map[Client]bool
	broadcast  chan roomMessage
	register   chan subscription
	unregister chan subscription
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
}

type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type subscription struct {
	code    string
	client  Client
	welcome []byte
}

type roomMessage struct {
	code string
	data []byte
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[Client]bool),
		broadcast:  make(chan roomMessage, 64),
		register:   make(chan subscription),
		unregister: make(chan subscription),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mutex.Lock()
			if h.rooms[sub.code] == nil {
				h.rooms[sub.code] = make(map[Client]bool)
			}
			h.rooms[sub.code][sub.client] = true
			total := len(h.rooms[sub.code])
			h.mutex.Unlock()
			logger.Debug("🔌 Cliente WebSocket conectado a %s. Total: %d", sub.code, total)

			if sub.welcome != nil {
				if err := sub.client.WriteMessage(websocket.TextMessage, sub.welcome); err != nil {
					logger.Warn("Error enviando estado inicial a %s: %v", sub.code, err)
					h.drop(sub.code, sub.client)
				}
			}

		case sub := <-h.unregister:
			h.drop(sub.code, sub.client)
			logger.Debug("🔌 Cliente WebSocket desconectado de %s", sub.code)

		case msg := <-h.broadcast:
			h.mutex.RLock()
			clients := make([]Client, 0, len(h.rooms[msg.code]))
			for client := range h.rooms[msg.code] {
				clients = append(clients, client)
			}
			h.mutex.RUnlock()

			for _, client := range clients {
				if err := client.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					logger.Warn("Error enviando mensaje WebSocket a %s: %v", msg.code, err)
					h.drop(msg.code, client)
				}
			}

		case <-h.done:
			h.mutex.Lock()
			for code, clients := range h.rooms {
				for client := range clients {
					client.Close()
				}
				delete(h.rooms, code)
			}
			h.mutex.Unlock()
			return
		}
	}
}

// Stop cierra todas las conexiones y termina Run
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) drop(code string, client Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	clients, ok := h.rooms[code]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	client.Close()
	if len(clients) == 0 {
		delete(h.rooms, code)
	}
}

// Register suscribe el cliente a la partida; welcome (si no es nil) se le envía
// antes que cualquier evento posterior.
func (h *Hub) Register(code string, client Client, welcome interface{}) {
	sub := subscription{code: code, client: client}
	if welcome != nil {
		data, err := encode("partidaStatus", welcome)
		if err == nil {
			sub.welcome = data
		}
	}
	select {
	case h.register <- sub:
	case <-h.done:
	}
}

func (h *Hub) Unregister(code string, client Client) {
	select {
	case h.unregister <- subscription{code: code, client: client}:
	case <-h.done:
	}
}

// ClientCount número de clientes suscritos a una partida
func (h *Hub) ClientCount(code string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[code])
}

// BroadcastToPartida envía un evento a todos los suscritos a code
func (h *Hub) BroadcastToPartida(code, msgType string, data interface{}) {
	msgData, err := encode(msgType, data)
	if err != nil {
		logger.Error("Error serializando mensaje: %v", err)
		return
	}

	select {
	case h.broadcast <- roomMessage{code: code, data: msgData}:
	case <-h.done:
	}
}

func encode(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Data: data})
}
