package services

import (
	"errors"
	"fmt"

	"github.com/backsoul/partidas/pkg/redis"
)

var (
	ErrInvalidArgument      = errors.New("parámetros inválidos")
	ErrNoQuestionsAvailable = errors.New("no hay preguntas disponibles con esos filtros")
	ErrPartidaNotFound      = errors.New("partida no encontrada")
	ErrParticipantNotFound  = errors.New("participante no encontrado")
	ErrPartidaFinished      = errors.New("la partida ya ha terminado")
	ErrParticipantFinished  = errors.New("el participante ya ha terminado")
	ErrCodeSpaceExhausted   = errors.New("no se pudo generar un código de partida libre")
	// ErrCacheUnavailable fallo transitorio de la caché; se puede reintentar
	ErrCacheUnavailable = errors.New("caché no disponible")
)

// cacheError traduce un error de la caché: ausencia => notFound, resto => ErrCacheUnavailable
func cacheError(err error, notFound error) error {
	if errors.Is(err, redis.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}
