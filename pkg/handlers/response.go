package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/backsoul/partidas/pkg/models"
	"github.com/backsoul/partidas/pkg/services"
	"github.com/valyala/fasthttp"
)

const requestTimeout = 10 * time.Second

// respondWithJSON envía una respuesta JSON
func respondWithJSON(ctx *fasthttp.RequestCtx, statusCode int, response interface{}) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetStatusCode(statusCode)

	jsonData, err := json.Marshal(response)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"success": false, "error": "Error al serializar respuesta"}`)
		return
	}

	ctx.SetBody(jsonData)
}

// respondWithError envía una respuesta de error
func respondWithError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	respondWithJSON(ctx, statusCode, models.APIResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithSuccess envía una respuesta exitosa
func respondWithSuccess(ctx *fasthttp.RequestCtx, data interface{}, message string) {
	respondWithJSON(ctx, fasthttp.StatusOK, models.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// respondWithServiceError traduce los errores del servicio a códigos HTTP
func respondWithServiceError(ctx *fasthttp.RequestCtx, err error) {
	respondWithError(ctx, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return fasthttp.StatusBadRequest
	case errors.Is(err, services.ErrPartidaNotFound), errors.Is(err, services.ErrParticipantNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, services.ErrPartidaFinished), errors.Is(err, services.ErrParticipantFinished):
		return fasthttp.StatusConflict
	case errors.Is(err, services.ErrNoQuestionsAvailable):
		return fasthttp.StatusUnprocessableEntity
	case errors.Is(err, services.ErrCacheUnavailable):
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

// requestContext contexto con límite de tiempo para las llamadas a la caché
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	value, _ := ctx.UserValue(name).(string)
	return value
}
