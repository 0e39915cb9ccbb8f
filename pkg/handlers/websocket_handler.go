package handlers

import (
	"errors"

	"github.com/backsoul/partidas/pkg/logger"
	"github.com/backsoul/partidas/pkg/services"
	websocketHub "github.com/backsoul/partidas/pkg/websocket"
	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

type WebSocketHandler struct {
	partidas *PartidaHandler
	hub      *websocketHub.Hub
}

func NewWebSocketHandler(partidas *PartidaHandler, hub *websocketHub.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		partidas: partidas,
		hub:      hub,
	}
}

var upgrader = websocket.FastHTTPUpgrader{
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		return true
	},
}

// HandleWebSocket maneja GET /ws/partidas/{code}. Al conectar se envía el
// estado actual; después solo llegan eventos de esa partida.
func (h *WebSocketHandler) HandleWebSocket(ctx *fasthttp.RequestCtx) {
	code := pathParam(ctx, "code")

	status, err := h.partidas.currentStatus(code)
	if err != nil {
		if !errors.Is(err, services.ErrPartidaNotFound) {
			logger.Warn("⚠️ Error obteniendo estado de %s: %v", code, err)
		}
		respondWithServiceError(ctx, err)
		return
	}

	err = upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		h.hub.Register(code, ws, status)
		defer h.hub.Unregister(code, ws)

		// Los clientes no envían nada útil; leer detecta la desconexión.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				logger.Debug("Conexión WebSocket de %s cerrada: %v", code, err)
				return
			}
		}
	})
	if err != nil {
		logger.Error("Error upgrading to WebSocket: %v", err)
	}
}
