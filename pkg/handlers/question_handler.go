package handlers

import (
	"context"
	"fmt"

	"github.com/backsoul/partidas/pkg/logger"
	"github.com/valyala/fasthttp"
)

// QuestionStore catálogo de preguntas administrable (Redis o Postgres)
type QuestionStore interface {
	LoadQuestionsFromFile(ctx context.Context, filePath string) (int, error)
	GetQuestionCount(ctx context.Context) (int, error)
	GetQuestionMetadata(ctx context.Context) (map[string]interface{}, error)
	HealthCheck(ctx context.Context) error
}

// HealthChecker dependencia que /api/health comprueba
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QuestionHandler maneja las peticiones HTTP del catálogo y de salud
type QuestionHandler struct {
	store         QuestionStore
	cache         HealthChecker
	questionsFile string
	backend       string
}

// NewQuestionHandler crea una nueva instancia del handler
func NewQuestionHandler(store QuestionStore, cache HealthChecker, questionsFile, backend string) *QuestionHandler {
	return &QuestionHandler{
		store:         store,
		cache:         cache,
		questionsFile: questionsFile,
		backend:       backend,
	}
}

// GetQuestionCount maneja GET /api/questions/count
func (h *QuestionHandler) GetQuestionCount(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	count, err := h.store.GetQuestionCount(reqCtx)
	if err != nil {
		respondWithError(ctx, fasthttp.StatusInternalServerError, fmt.Sprintf("Error obteniendo conteo: %v", err))
		return
	}
	respondWithSuccess(ctx, map[string]interface{}{"count": count}, "Conteo obtenido exitosamente")
}

// GetQuestionMetadata maneja GET /api/questions/metadata
func (h *QuestionHandler) GetQuestionMetadata(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	metadata, err := h.store.GetQuestionMetadata(reqCtx)
	if err != nil {
		respondWithError(ctx, fasthttp.StatusInternalServerError, fmt.Sprintf("Error obteniendo metadatos: %v", err))
		return
	}

	count, err := h.store.GetQuestionCount(reqCtx)
	if err != nil {
		respondWithError(ctx, fasthttp.StatusInternalServerError, fmt.Sprintf("Error obteniendo conteo: %v", err))
		return
	}

	respondWithSuccess(ctx, map[string]interface{}{
		"metadata": metadata,
		"count":    count,
	}, "Metadatos obtenidos exitosamente")
}

// ReloadQuestions maneja POST /api/questions/reload
func (h *QuestionHandler) ReloadQuestions(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	count, err := h.store.LoadQuestionsFromFile(reqCtx, h.questionsFile)
	if err != nil {
		logger.Error("Error recargando preguntas desde %s: %v", h.questionsFile, err)
		respondWithError(ctx, fasthttp.StatusInternalServerError, fmt.Sprintf("Error recargando preguntas: %v", err))
		return
	}

	logger.Info("📚 %d preguntas recargadas desde %s", count, h.questionsFile)
	respondWithSuccess(ctx, map[string]interface{}{"count": count}, "Preguntas recargadas exitosamente")
}

// HealthCheck maneja GET /api/health
func (h *QuestionHandler) HealthCheck(ctx *fasthttp.RequestCtx) {
	reqCtx, cancel := requestContext()
	defer cancel()

	if err := h.cache.HealthCheck(reqCtx); err != nil {
		respondWithError(ctx, fasthttp.StatusServiceUnavailable, fmt.Sprintf("Servicio no disponible: %v", err))
		return
	}
	if err := h.store.HealthCheck(reqCtx); err != nil {
		respondWithError(ctx, fasthttp.StatusServiceUnavailable, fmt.Sprintf("Catálogo no disponible: %v", err))
		return
	}

	respondWithSuccess(ctx, map[string]interface{}{
		"status":  "healthy",
		"redis":   "connected",
		"catalog": h.backend,
	}, "Servicio funcionando correctamente")
}
