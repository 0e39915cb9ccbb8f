package services

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/backsoul/partidas/pkg/models"
	"github.com/backsoul/partidas/pkg/redis"
)

// QuestionService catálogo de preguntas guardado en Redis a partir de un fichero JSON
type QuestionService struct {
	redisClient *redis.RedisClient
	excludedLaw string
	shuffle     func(n int, swap func(i, j int))
}

// NewQuestionService crea una nueva instancia del servicio.
// excludedLaw (si no está vacía) nunca entra en la selección aleatoria.
func NewQuestionService(redisClient *redis.RedisClient, excludedLaw string) *QuestionService {
	return &QuestionService{
		redisClient: redisClient,
		excludedLaw: strings.TrimSpace(excludedLaw),
		shuffle:     rand.Shuffle,
	}
}

// LoadQuestionsFromFile carga las preguntas desde el archivo JSON a Redis
func (s *QuestionService) LoadQuestionsFromFile(ctx context.Context, filePath string) (int, error) {
	jsonData, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("error leyendo archivo JSON: %w", err)
	}

	count, err := s.redisClient.LoadQuestionsFromJSON(ctx, jsonData)
	if err != nil {
		return 0, fmt.Errorf("error cargando preguntas a Redis: %w", err)
	}
	return count, nil
}

// RandomActiveQuestionIDs devuelve hasta count IDs aleatorios de preguntas
// activas, con texto y que no procedan de la ley excluida.
func (s *QuestionService) RandomActiveQuestionIDs(ctx context.Context, count int, difficulty string) ([]int, error) {
	ids, err := s.redisClient.GetAllQuestionIDs(ctx)
	if err != nil {
		return nil, err
	}
	questions, err := s.redisClient.GetQuestionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	selectable := make([]int, 0, len(questions))
	for _, q := range questions {
		if isSelectable(q, difficulty, s.excludedLaw) {
			selectable = append(selectable, q.ID)
		}
	}

	s.shuffle(len(selectable), func(i, j int) {
		selectable[i], selectable[j] = selectable[j], selectable[i]
	})
	if len(selectable) > count {
		selectable = selectable[:count]
	}
	return selectable, nil
}

// QuestionsByIDs devuelve las preguntas existentes, sin garantía de orden
func (s *QuestionService) QuestionsByIDs(ctx context.Context, ids []int) ([]models.Question, error) {
	return s.redisClient.GetQuestionsByIDs(ctx, ids)
}

// GetQuestionCount obtiene el número total de preguntas
func (s *QuestionService) GetQuestionCount(ctx context.Context) (int, error) {
	count, err := s.redisClient.GetQuestionCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("error obteniendo conteo de preguntas: %w", err)
	}
	return count, nil
}

// GetQuestionMetadata obtiene los metadatos del fichero cargado
func (s *QuestionService) GetQuestionMetadata(ctx context.Context) (map[string]interface{}, error) {
	return s.redisClient.GetMetadata(ctx)
}

// HealthCheck verifica que el servicio esté funcionando
func (s *QuestionService) HealthCheck(ctx context.Context) error {
	return s.redisClient.HealthCheck(ctx)
}

func isSelectable(q models.Question, difficulty, excludedLaw string) bool {
	if !q.Active || strings.TrimSpace(q.Text) == "" {
		return false
	}
	if difficulty != "" && !strings.EqualFold(q.Difficulty, difficulty) {
		return false
	}
	if excludedLaw != "" && q.HasLaw(excludedLaw) {
		return false
	}
	return true
}
