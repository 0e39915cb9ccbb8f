package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/backsoul/partidas/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound la clave no existe o ha expirado
	ErrNotFound = errors.New("clave no encontrada")
	// ErrLockNotAcquired no se obtuvo el cerrojo dentro del tiempo de espera
	ErrLockNotAcquired = errors.New("no se pudo obtener el cerrojo")
)

const (
	questionKeyPrefix = "quiz:question:"
	questionIDsKey    = "quiz:question_ids"
	metadataKey       = "quiz:metadata"

	lockPollInterval = 20 * time.Millisecond
)

var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisClient estructura para manejar conexiones con Redis
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient crea el cliente y verifica la conexión con un PING
func NewRedisClient(ctx context.Context, addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("error conectando a Redis en %s: %w", addr, err)
	}

	return &RedisClient{client: rdb}, nil
}

// Get devuelve el valor de una clave o ErrNotFound
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("error leyendo %s: %w", key, err)
	}
	return value, nil
}

// Set guarda un valor con TTL (0 = sin expiración)
func (r *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("error guardando %s: %w", key, err)
	}
	return nil
}

// Exists indica si la clave existe
func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("error comprobando %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisClient) AddToSet(ctx context.Context, key string, members ...string) error {
	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = m
	}
	return r.client.SAdd(ctx, key, values...).Err()
}

func (r *RedisClient) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = m
	}
	return r.client.SRem(ctx, key, values...).Err()
}

func (r *RedisClient) GetSetMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

// AcquireLock obtiene un cerrojo distribuido (SET NX PX) sobre key, reintentando
// hasta wait. La función devuelta lo libera solo si sigue siendo nuestro.
func (r *RedisClient) AcquireLock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("error obteniendo cerrojo %s: %w", key, err)
		}
		if ok {
			release := func() {
				// Contexto propio: el del request puede estar ya cancelado.
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				releaseLockScript.Run(releaseCtx, r.client, []string{key}, token)
			}
			return release, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// LoadQuestionsFromJSON sustituye el catálogo de preguntas por el del JSON
func (r *RedisClient) LoadQuestionsFromJSON(ctx context.Context, jsonData []byte) (int, error) {
	var questionsData models.QuestionsData
	if err := json.Unmarshal(jsonData, &questionsData); err != nil {
		return 0, fmt.Errorf("error parsing JSON: %w", err)
	}

	if err := r.ClearAllQuestions(ctx); err != nil {
		return 0, err
	}

	pipe := r.client.TxPipeline()
	ids := make([]interface{}, 0, len(questionsData.Questions))
	for _, question := range questionsData.Questions {
		questionJSON, err := json.Marshal(question)
		if err != nil {
			return 0, fmt.Errorf("error serializing question %d: %w", question.ID, err)
		}
		pipe.Set(ctx, questionKey(question.ID), questionJSON, 0)
		ids = append(ids, question.ID)
	}
	if len(ids) > 0 {
		pipe.SAdd(ctx, questionIDsKey, ids...)
	}
	metadataJSON, _ := json.Marshal(questionsData.Metadata)
	pipe.Set(ctx, metadataKey, metadataJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("error guardando preguntas: %w", err)
	}
	return len(ids), nil
}

// GetQuestionsByIDs obtiene las preguntas existentes (MGET); las ausentes se omiten
func (r *RedisClient) GetQuestionsByIDs(ctx context.Context, ids []int) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = questionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("error obteniendo preguntas: %w", err)
	}

	questions := make([]models.Question, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var q models.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("error parsing question %s: %w", keys[i], err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// GetAllQuestionIDs devuelve los IDs registrados en el índice
func (r *RedisClient) GetAllQuestionIDs(ctx context.Context) ([]int, error) {
	members, err := r.client.SMembers(ctx, questionIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("error getting question IDs: %w", err)
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetMetadata obtiene los metadatos del fichero cargado
func (r *RedisClient) GetMetadata(ctx context.Context) (map[string]interface{}, error) {
	raw, err := r.Get(ctx, metadataKey)
	if err != nil {
		return nil, err
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("error parsing metadata: %w", err)
	}
	return metadata, nil
}

// GetQuestionCount obtiene el número total de preguntas en Redis
func (r *RedisClient) GetQuestionCount(ctx context.Context) (int, error) {
	count, err := r.client.SCard(ctx, questionIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("error getting question count: %w", err)
	}
	return int(count), nil
}

// ClearAllQuestions elimina todas las preguntas y el índice
func (r *RedisClient) ClearAllQuestions(ctx context.Context) error {
	members, err := r.client.SMembers(ctx, questionIDsKey).Result()
	if err != nil {
		return fmt.Errorf("error getting question IDs: %w", err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, questionKeyPrefix+m)
	}
	keys = append(keys, questionIDsKey)
	return r.client.Del(ctx, keys...).Err()
}

// Close cierra la conexión con Redis
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// HealthCheck verifica que Redis esté funcionando
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func questionKey(id int) string {
	return questionKeyPrefix + strconv.Itoa(id)
}
