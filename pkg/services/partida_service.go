package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/backsoul/partidas/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	MinQuestionCount    = 5
	MaxQuestionCount    = 20
	MinTimeLimitMinutes = 1
	MaxTimeLimitMinutes = 20

	maxDisplayNameLength = 50
	maxCodeAttempts      = 100

	partidaKeyPrefix  = "partida_"
	activePartidasKey = "partidas:activas"

	minPartidaTTL = 1800 // segundos
	reviewGrace   = 600  // segundos tras el límite para revisar resultados
)

var codePattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// Cache es el almacén clave-valor con TTL donde vive cada partida
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	AcquireLock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
	AddToSet(ctx context.Context, key string, members ...string) error
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	GetSetMembers(ctx context.Context, key string) ([]string, error)
}

// QuestionCatalog proporciona selección aleatoria y contenido de preguntas
type QuestionCatalog interface {
	RandomActiveQuestionIDs(ctx context.Context, count int, difficulty string) ([]int, error)
	QuestionsByIDs(ctx context.Context, ids []int) ([]models.Question, error)
}

// PartidaService gestiona el ciclo de vida de las partidas multijugador con
// tiempo límite. Toda mutación es leer-modificar-escribir de la partida
// completa dentro de un cerrojo por código.
type PartidaService struct {
	cache    Cache
	catalog  QuestionCatalog
	now      func() time.Time
	randRead func([]byte) (int, error)
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewPartidaService crea una nueva instancia del servicio de partidas
func NewPartidaService(cache Cache, catalog QuestionCatalog) *PartidaService {
	return &PartidaService{
		cache:    cache,
		catalog:  catalog,
		now:      time.Now,
		randRead: rand.Read,
		lockTTL:  5 * time.Second,
		lockWait: 2 * time.Second,
	}
}

// SetClock permite inyectar el reloj (tests)
func (s *PartidaService) SetClock(now func() time.Time) {
	s.now = now
}

// SetLockTiming ajusta la vida del cerrojo y cuánto se espera a obtenerlo
func (s *PartidaService) SetLockTiming(ttl, wait time.Duration) {
	s.lockTTL = ttl
	s.lockWait = wait
}

// CreatePartida crea una partida nueva y devuelve su código
func (s *PartidaService) CreatePartida(ctx context.Context, questionCount, timeLimitMinutes int, difficulty string, creatorID *int) (string, error) {
	if questionCount < MinQuestionCount || questionCount > MaxQuestionCount {
		return "", fmt.Errorf("%w: questionCount debe estar entre %d y %d", ErrInvalidArgument, MinQuestionCount, MaxQuestionCount)
	}
	if timeLimitMinutes < MinTimeLimitMinutes || timeLimitMinutes > MaxTimeLimitMinutes {
		return "", fmt.Errorf("%w: timeLimitMinutes debe estar entre %d y %d", ErrInvalidArgument, MinTimeLimitMinutes, MaxTimeLimitMinutes)
	}
	difficulty = strings.TrimSpace(difficulty)

	code, err := s.generateCode(ctx)
	if err != nil {
		return "", err
	}

	ids, err := s.catalog.RandomActiveQuestionIDs(ctx, questionCount, difficulty)
	if err != nil {
		return "", fmt.Errorf("error obteniendo preguntas: %w", err)
	}
	if len(ids) == 0 {
		return "", ErrNoQuestionsAvailable
	}
	if len(ids) > questionCount {
		ids = ids[:questionCount]
	}

	partida := &models.Partida{
		Code:             code,
		QuestionIDs:      ids,
		QuestionCount:    questionCount,
		TimeLimitMinutes: timeLimitMinutes,
		Difficulty:       difficulty,
		CreatedAt:        s.now(),
		Status:           models.PartidaCreated,
		CreatedByUserID:  creatorID,
		Participants:     map[string]*models.Participant{},
	}

	if err := s.save(ctx, partida); err != nil {
		return "", err
	}
	if err := s.cache.AddToSet(ctx, activePartidasKey, code); err != nil {
		return "", cacheError(err, ErrCacheUnavailable)
	}
	return code, nil
}

// generateCode genera 8 caracteres hex aleatorios libres en la caché
func (s *PartidaService) generateCode(ctx context.Context) (string, error) {
	buf := make([]byte, 4)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if _, err := s.randRead(buf); err != nil {
			return "", fmt.Errorf("error generando código: %w", err)
		}
		code := hex.EncodeToString(buf)

		exists, err := s.cache.Exists(ctx, partidaKey(code))
		if err != nil {
			return "", cacheError(err, ErrCacheUnavailable)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w tras %d intentos", ErrCodeSpaceExhausted, maxCodeAttempts)
}

// GetQuestions devuelve las preguntas de la partida en su orden, sin la respuesta correcta.
// Una partida inexistente devuelve una lista vacía.
func (s *PartidaService) GetQuestions(ctx context.Context, code string) ([]models.PublicQuestion, error) {
	partida, err := s.load(ctx, code)
	if errors.Is(err, ErrPartidaNotFound) {
		return []models.PublicQuestion{}, nil
	}
	if err != nil {
		return nil, err
	}

	questions, err := s.questionsOf(ctx, partida)
	if err != nil {
		return nil, err
	}

	public := make([]models.PublicQuestion, len(questions))
	for i, q := range questions {
		public[i] = models.PublicQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Options: q.Options,
			Topic:   q.Topic,
			Laws:    q.Laws,
		}
	}
	return public, nil
}

// JoinPartida añade un participante en espera. Devuelve su token junto con el
// nombre tal y como queda guardado.
func (s *PartidaService) JoinPartida(ctx context.Context, code, displayName string) (models.ParticipantSummary, error) {
	name := normalizeDisplayName(displayName)
	if name == "" {
		return models.ParticipantSummary{}, fmt.Errorf("%w: el nombre es obligatorio", ErrInvalidArgument)
	}

	var joined models.ParticipantSummary
	_, err := s.update(ctx, code, func(p *models.Partida) (bool, error) {
		if p.Status == models.PartidaFinished {
			return false, ErrPartidaFinished
		}
		participantID := uuid.NewString()
		p.Participants[participantID] = &models.Participant{
			ID:          participantID,
			DisplayName: name,
			Answers:     map[int]string{},
			State:       models.ParticipantWaiting,
		}
		joined = models.ParticipantSummary{
			ID:          participantID,
			DisplayName: name,
			State:       models.ParticipantWaiting,
		}
		return true, nil
	})
	if err != nil {
		return models.ParticipantSummary{}, err
	}
	return joined, nil
}

// StartPlaying pasa al participante a "playing". El primer jugador que empieza
// fija firstPlayerStartedAt y la partida pasa a in_progress.
func (s *PartidaService) StartPlaying(ctx context.Context, code, participantID string) error {
	_, err := s.update(ctx, code, func(p *models.Partida) (bool, error) {
		participant, ok := p.Participants[participantID]
		if !ok {
			return false, ErrParticipantNotFound
		}
		if p.Status == models.PartidaFinished {
			return false, ErrPartidaFinished
		}
		if participant.State != models.ParticipantWaiting {
			return false, nil
		}

		now := s.now()
		participant.State = models.ParticipantPlaying
		participant.StartedAt = &now
		if p.FirstPlayerStartedAt == nil {
			p.FirstPlayerStartedAt = &now
			p.Status = models.PartidaInProgress
		}
		return true, nil
	})
	return err
}

// SubmitAnswer guarda (o sobrescribe) la respuesta a una pregunta. Una respuesta
// nil o vacía deja la pregunta en blanco.
func (s *PartidaService) SubmitAnswer(ctx context.Context, code, participantID string, questionID int, answer *string) error {
	value := ""
	if answer != nil {
		value = normalizeAnswer(*answer)
	}

	_, err := s.update(ctx, code, func(p *models.Partida) (bool, error) {
		participant, ok := p.Participants[participantID]
		if !ok {
			return false, ErrParticipantNotFound
		}
		if p.Status == models.PartidaFinished {
			return false, ErrPartidaFinished
		}
		if participant.State == models.ParticipantFinished {
			return false, ErrParticipantFinished
		}
		participant.Answers[questionID] = value
		return true, nil
	})
	return err
}

// FinalizeParticipant corrige las respuestas del participante. Repetir la
// llamada devuelve el mismo resultado sin recalcular.
func (s *PartidaService) FinalizeParticipant(ctx context.Context, code, participantID string) (models.FinalizeOutcome, error) {
	// Las preguntas de una partida no cambian tras crearla, así que las
	// respuestas correctas se consultan antes de tomar el cerrojo.
	snapshot, err := s.load(ctx, code)
	if err != nil {
		return models.FinalizeOutcome{}, err
	}
	current, ok := snapshot.Participants[participantID]
	if !ok {
		return models.FinalizeOutcome{}, ErrParticipantNotFound
	}
	var correct map[int]string
	if current.State != models.ParticipantFinished {
		if correct, err = s.correctAnswersOf(ctx, snapshot); err != nil {
			return models.FinalizeOutcome{}, err
		}
	}

	var outcome models.FinalizeOutcome
	_, err = s.update(ctx, code, func(p *models.Partida) (bool, error) {
		participant, ok := p.Participants[participantID]
		if !ok {
			return false, ErrParticipantNotFound
		}
		denominator := scoreDenominator(p)

		if participant.State == models.ParticipantFinished {
			outcome = models.FinalizeOutcome{
				Results:         resultOf(participant, denominator),
				PartidaFinished: p.Status == models.PartidaFinished,
			}
			return false, nil
		}

		scoreParticipant(participant, p.QuestionIDs, correct, denominator, s.now())

		outcome = models.FinalizeOutcome{
			Results:         resultOf(participant, denominator),
			PartidaFinished: p.Status == models.PartidaFinished,
		}
		return true, nil
	})
	if err != nil {
		return models.FinalizeOutcome{}, err
	}
	return outcome, nil
}

// CheckDeadline cierra la partida si ha vencido el tiempo desde que empezó el
// primer jugador. Devuelve true solo si esta llamada la ha cerrado.
func (s *PartidaService) CheckDeadline(ctx context.Context, code string) (bool, error) {
	// Lectura sin cerrojo para el caso habitual (nada que hacer).
	partida, err := s.load(ctx, code)
	if errors.Is(err, ErrPartidaNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.deadlinePassed(partida) {
		return false, nil
	}
	correct, err := s.correctAnswersOf(ctx, partida)
	if err != nil {
		return false, err
	}

	finalized := false
	_, err = s.update(ctx, code, func(p *models.Partida) (bool, error) {
		if !s.deadlinePassed(p) {
			return false, nil
		}

		now := s.now()
		for _, participant := range p.Participants {
			if participant.State == models.ParticipantFinished {
				continue
			}
			scoreParticipant(participant, p.QuestionIDs, correct, scoreDenominator(p), now)
		}

		p.Status = models.PartidaFinished
		finalized = true
		return true, nil
	})
	if errors.Is(err, ErrPartidaNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return finalized, nil
}

func (s *PartidaService) correctAnswersOf(ctx context.Context, p *models.Partida) (map[int]string, error) {
	questions, err := s.catalog.QuestionsByIDs(ctx, p.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo preguntas: %w", err)
	}
	return correctAnswers(questions), nil
}

func (s *PartidaService) deadlinePassed(p *models.Partida) bool {
	if p.Status == models.PartidaFinished || p.FirstPlayerStartedAt == nil {
		return false
	}
	return s.now().Sub(*p.FirstPlayerStartedAt) >= p.TimeLimit()
}

// GetQuestionsWithAnswers devuelve la revisión de un participante: pregunta,
// respuesta correcta, su respuesta y si acertó.
func (s *PartidaService) GetQuestionsWithAnswers(ctx context.Context, code, participantID string) ([]models.ReviewItem, error) {
	partida, err := s.load(ctx, code)
	if errors.Is(err, ErrPartidaNotFound) {
		return []models.ReviewItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	participant, ok := partida.Participants[participantID]
	if !ok {
		return []models.ReviewItem{}, nil
	}

	questions, err := s.questionsOf(ctx, partida)
	if err != nil {
		return nil, err
	}

	review := make([]models.ReviewItem, len(questions))
	for i, q := range questions {
		item := models.ReviewItem{
			ID:      q.ID,
			Text:    q.Text,
			Options: q.Options,
			Correct: q.Correct,
			Topic:   q.Topic,
			Laws:    q.Laws,
		}
		if answer := participant.Answers[q.ID]; answer != "" {
			item.Answer = &answer
			item.IsAnswered = true
			item.IsCorrect = answer == normalizeAnswer(q.Correct)
		}
		review[i] = item
	}
	return review, nil
}

// GetRanking devuelve los participantes terminados ordenados por aciertos y tiempo
func (s *PartidaService) GetRanking(ctx context.Context, code string) ([]models.RankingEntry, error) {
	partida, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}
	return buildRanking(partida), nil
}

// GetStatus comprueba primero el límite de tiempo y devuelve el resumen
// público. closed indica que esta llamada ha cerrado la partida; quien la
// recibe debe avisar a los clientes conectados.
func (s *PartidaService) GetStatus(ctx context.Context, code string) (status *models.PartidaStatusSummary, closed bool, err error) {
	closed, err = s.CheckDeadline(ctx, code)
	if err != nil {
		return nil, false, err
	}

	partida, err := s.load(ctx, code)
	if err != nil {
		return nil, closed, err
	}

	participants := make([]models.ParticipantSummary, 0, len(partida.Participants))
	for _, p := range partida.Participants {
		participants = append(participants, models.ParticipantSummary{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			State:       p.State,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].DisplayName != participants[j].DisplayName {
			return participants[i].DisplayName < participants[j].DisplayName
		}
		return participants[i].ID < participants[j].ID
	})

	return &models.PartidaStatusSummary{
		Code:                 partida.Code,
		Status:               partida.Status,
		QuestionCount:        partida.QuestionCount,
		TimeLimitMinutes:     partida.TimeLimitMinutes,
		FirstPlayerStartedAt: partida.FirstPlayerStartedAt,
		Participants:         participants,
	}, closed, nil
}

// SweepActive ejecuta CheckDeadline sobre todas las partidas del índice de
// activas y retira las terminadas o expiradas. Devuelve los códigos cerrados
// en esta pasada.
func (s *PartidaService) SweepActive(ctx context.Context) ([]string, error) {
	codes, err := s.cache.GetSetMembers(ctx, activePartidasKey)
	if err != nil {
		return nil, cacheError(err, ErrCacheUnavailable)
	}

	var finalized []string
	var errs []error
	for _, code := range codes {
		closed, err := s.CheckDeadline(ctx, code)
		if err != nil {
			errs = append(errs, fmt.Errorf("partida %s: %w", code, err))
			continue
		}
		if closed {
			finalized = append(finalized, code)
		}

		partida, err := s.load(ctx, code)
		switch {
		case errors.Is(err, ErrPartidaNotFound), err == nil && partida.Status == models.PartidaFinished:
			if err := s.cache.RemoveFromSet(ctx, activePartidasKey, code); err != nil {
				errs = append(errs, fmt.Errorf("partida %s: %w", code, cacheError(err, ErrCacheUnavailable)))
			}
		case err != nil:
			errs = append(errs, fmt.Errorf("partida %s: %w", code, err))
		}
	}
	return finalized, errors.Join(errs...)
}

// update ejecuta fn sobre la partida bajo el cerrojo del código y la persiste
// si fn indica cambios.
func (s *PartidaService) update(ctx context.Context, code string, fn func(p *models.Partida) (bool, error)) (*models.Partida, error) {
	if !codePattern.MatchString(code) {
		return nil, ErrPartidaNotFound
	}

	release, err := s.cache.AcquireLock(ctx, lockKey(code), s.lockTTL, s.lockWait)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	defer release()

	partida, err := s.load(ctx, code)
	if err != nil {
		return nil, err
	}

	changed, err := fn(partida)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.save(ctx, partida); err != nil {
			return nil, err
		}
	}
	return partida, nil
}

func (s *PartidaService) load(ctx context.Context, code string) (*models.Partida, error) {
	if !codePattern.MatchString(code) {
		return nil, ErrPartidaNotFound
	}

	raw, err := s.cache.Get(ctx, partidaKey(code))
	if err != nil {
		return nil, cacheError(err, ErrPartidaNotFound)
	}

	var partida models.Partida
	if err := json.Unmarshal([]byte(raw), &partida); err != nil {
		return nil, fmt.Errorf("error parsing partida %s: %w", code, err)
	}
	if partida.Participants == nil {
		partida.Participants = map[string]*models.Participant{}
	}
	for _, p := range partida.Participants {
		if p.Answers == nil {
			p.Answers = map[int]string{}
		}
	}
	return &partida, nil
}

func (s *PartidaService) save(ctx context.Context, partida *models.Partida) error {
	data, err := json.Marshal(partida)
	if err != nil {
		return fmt.Errorf("error serializando partida: %w", err)
	}
	if err := s.cache.Set(ctx, partidaKey(partida.Code), string(data), partidaTTL(partida, s.now())); err != nil {
		return cacheError(err, ErrCacheUnavailable)
	}
	return nil
}

func (s *PartidaService) questionsOf(ctx context.Context, p *models.Partida) ([]models.Question, error) {
	questions, err := s.catalog.QuestionsByIDs(ctx, p.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo preguntas: %w", err)
	}
	return orderQuestions(p.QuestionIDs, questions), nil
}

// partidaTTL: max(límite+10min, 30min) antes de empezar; después decrece con el
// tiempo transcurrido sin bajar de 10 minutos.
func partidaTTL(p *models.Partida, now time.Time) time.Duration {
	ttl := p.TimeLimitMinutes*60 + reviewGrace
	if ttl < minPartidaTTL {
		ttl = minPartidaTTL
	}
	if p.FirstPlayerStartedAt != nil {
		ttl -= int(now.Sub(*p.FirstPlayerStartedAt) / time.Second)
		if ttl < reviewGrace {
			ttl = reviewGrace
		}
	}
	return time.Duration(ttl) * time.Second
}

// normalizeDisplayName recorta espacios, normaliza a NFC y corta a 50 caracteres (runas)
func normalizeDisplayName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if utf8.RuneCountInString(name) <= maxDisplayNameLength {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxDisplayNameLength])
}

func partidaKey(code string) string {
	return partidaKeyPrefix + code
}

func lockKey(code string) string {
	return partidaKeyPrefix + code + ":lock"
}
