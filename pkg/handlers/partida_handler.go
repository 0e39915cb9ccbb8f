package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/backsoul/partidas/pkg/logger"
	"github.com/backsoul/partidas/pkg/models"
	"github.com/backsoul/partidas/pkg/services"
	"github.com/valyala/fasthttp"
)

// Broadcaster envía eventos a los clientes conectados a una partida
type Broadcaster interface {
	BroadcastToPartida(code, msgType string, data interface{})
}

// PartidaHandler maneja las peticiones HTTP de partidas multijugador
type PartidaHandler struct {
	partidaService *services.PartidaService
	hub            Broadcaster
}

// NewPartidaHandler crea una nueva instancia del handler de partidas
func NewPartidaHandler(partidaService *services.PartidaService, hub Broadcaster) *PartidaHandler {
	return &PartidaHandler{
		partidaService: partidaService,
		hub:            hub,
	}
}

// CreatePartida maneja POST /api/partidas
func (h *PartidaHandler) CreatePartida(ctx *fasthttp.RequestCtx) {
	var request models.CreatePartidaRequest
	if err := json.Unmarshal(ctx.PostBody(), &request); err != nil {
		respondWithError(ctx, fasthttp.StatusBadRequest, "JSON inválido")
		return
	}

	reqCtx, cancel := requestContext()
	defer cancel()

	code, err := h.partidaService.CreatePartida(reqCtx, request.QuestionCount, request.TimeLimitMinutes, request.Difficulty, request.CreatorID)
	if err != nil {
		logger.Warn("⚠️ Error creando partida: %v", err)
		respondWithServiceError(ctx, err)
		return
	}

	logger.Info("🎲 Partida %s creada (%d preguntas, %d min)", code, request.QuestionCount, request.TimeLimitMinutes)
	respondWithSuccess(ctx, map[string]string{"code": code}, "Partida creada exitosamente")
}

// GetStatus maneja GET /api/partidas/{code}
func (h *PartidaHandler) GetStatus(ctx *fasthttp.RequestCtx) {
	status, err := h.currentStatus(pathParam(ctx, "code"))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, status, "Estado de la partida obtenido exitosamente")
}

// currentStatus obtiene el estado de la partida y, si la consulta la cierra
// por tiempo, avisa a los clientes conectados.
func (h *PartidaHandler) currentStatus(code string) (*models.PartidaStatusSummary, error) {
	reqCtx, cancel := requestContext()
	defer cancel()

	status, closed, err := h.partidaService.GetStatus(reqCtx, code)
	if closed {
		logger.Info("🏁 Partida %s cerrada por tiempo", code)
		h.NotifyFinished(code)
	}
	return status, err
}

// GetQuestions maneja GET /api/partidas/{code}/questions
func (h *PartidaHandler) GetQuestions(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	questions, err := h.partidaService.GetQuestions(reqCtx, pathParam(ctx, "code"))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{
		"questions": questions,
		"count":     len(questions),
	}, "Preguntas obtenidas exitosamente")
}

// Join maneja POST /api/partidas/{code}/join
func (h *PartidaHandler) Join(ctx *fasthttp.RequestCtx) {
	request, ok := parseParticipantRequest(ctx)
	if !ok {
		return
	}
	code := pathParam(ctx, "code")
	reqCtx, cancel := requestContext()
	defer cancel()

	joined, err := h.partidaService.JoinPartida(reqCtx, code, request.DisplayName)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}

	logger.Info("👤 %s se ha unido a la partida %s", joined.DisplayName, code)
	h.hub.BroadcastToPartida(code, "participantJoined", map[string]string{
		"code":        code,
		"displayName": joined.DisplayName,
	})
	respondWithSuccess(ctx, map[string]string{"participantId": joined.ID}, "Te has unido a la partida")
}

// Start maneja POST /api/partidas/{code}/start
func (h *PartidaHandler) Start(ctx *fasthttp.RequestCtx) {
	request, ok := parseParticipantRequest(ctx)
	if !ok {
		return
	}
	code := pathParam(ctx, "code")
	reqCtx, cancel := requestContext()
	defer cancel()

	if err := h.partidaService.StartPlaying(reqCtx, code, request.ParticipantID); err != nil {
		respondWithServiceError(ctx, err)
		return
	}

	h.hub.BroadcastToPartida(code, "participantStarted", map[string]string{"code": code})
	respondWithSuccess(ctx, nil, "Partida comenzada")
}

// SubmitAnswer maneja POST /api/partidas/{code}/answer
func (h *PartidaHandler) SubmitAnswer(ctx *fasthttp.RequestCtx) {
	request, ok := parseParticipantRequest(ctx)
	if !ok {
		return
	}
	reqCtx, cancel := requestContext()
	defer cancel()

	err := h.partidaService.SubmitAnswer(reqCtx, pathParam(ctx, "code"), request.ParticipantID, request.QuestionID, request.Answer)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, nil, "Respuesta guardada")
}

// Finish maneja POST /api/partidas/{code}/finish
func (h *PartidaHandler) Finish(ctx *fasthttp.RequestCtx) {
	request, ok := parseParticipantRequest(ctx)
	if !ok {
		return
	}
	code := pathParam(ctx, "code")
	reqCtx, cancel := requestContext()
	defer cancel()

	outcome, err := h.partidaService.FinalizeParticipant(reqCtx, code, request.ParticipantID)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}

	h.hub.BroadcastToPartida(code, "participantFinished", map[string]interface{}{
		"code":         code,
		"correctCount": outcome.Results.CorrectCount,
		"score":        outcome.Results.Score,
	})
	respondWithSuccess(ctx, outcome, "Resultados calculados")
}

// Review maneja GET /api/partidas/{code}/review?participantId=
func (h *PartidaHandler) Review(ctx *fasthttp.RequestCtx) {
	participantID := string(ctx.QueryArgs().Peek("participantId"))
	if participantID == "" {
		respondWithError(ctx, fasthttp.StatusBadRequest, "participantId es obligatorio")
		return
	}
	reqCtx, cancel := requestContext()
	defer cancel()

	items, err := h.partidaService.GetQuestionsWithAnswers(reqCtx, pathParam(ctx, "code"), participantID)
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{
		"questions": items,
		"count":     len(items),
	}, "Revisión obtenida exitosamente")
}

// Ranking maneja GET /api/partidas/{code}/ranking
func (h *PartidaHandler) Ranking(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	ranking, err := h.partidaService.GetRanking(reqCtx, pathParam(ctx, "code"))
	if err != nil {
		respondWithServiceError(ctx, err)
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{
		"ranking": ranking,
	}, "Ranking obtenido exitosamente")
}

// NotifyFinished avisa a los clientes de una partida cerrada por tiempo,
// ya sea desde una petición o desde el barrido periódico.
func (h *PartidaHandler) NotifyFinished(code string) {
	logger.Debug("📣 Notificando fin de la partida %s", code)

	reqCtx, cancel := requestContext()
	defer cancel()

	payload := map[string]interface{}{"code": code}
	if ranking, err := h.partidaService.GetRanking(reqCtx, code); err == nil {
		payload["ranking"] = ranking
	} else {
		logger.Warn("⚠️ Error obteniendo ranking de %s: %v", code, err)
	}
	h.hub.BroadcastToPartida(code, "partidaFinished", payload)
}

func parseParticipantRequest(ctx *fasthttp.RequestCtx) (models.ParticipantRequest, bool) {
	var request models.ParticipantRequest
	if err := json.Unmarshal(ctx.PostBody(), &request); err != nil {
		respondWithError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("JSON inválido: %v", err))
		return request, false
	}
	return request, true
}
