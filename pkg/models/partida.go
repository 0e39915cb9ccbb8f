package models

import "time"

type PartidaStatus string

const (
	PartidaCreated    PartidaStatus = "created"
	PartidaInProgress PartidaStatus = "in_progress"
	PartidaFinished   PartidaStatus = "finished"
)

type ParticipantState string

const (
	ParticipantWaiting  ParticipantState = "waiting"
	ParticipantPlaying  ParticipantState = "playing"
	ParticipantFinished ParticipantState = "finished"
)

// Partida es el estado efímero de una partida multijugador, guardado entero
// bajo una única clave de la caché.
type Partida struct {
	Code                 string                  `json:"code"`
	QuestionIDs          []int                   `json:"questionIds"`
	QuestionCount        int                     `json:"questionCount"`
	TimeLimitMinutes     int                     `json:"timeLimitMinutes"`
	Difficulty           string                  `json:"difficulty,omitempty"`
	CreatedAt            time.Time               `json:"createdAt"`
	FirstPlayerStartedAt *time.Time              `json:"firstPlayerStartedAt"`
	Status               PartidaStatus           `json:"status"`
	CreatedByUserID      *int                    `json:"createdByUserId,omitempty"`
	Participants         map[string]*Participant `json:"participants"`
}

// Participant es un jugador dentro de una partida
type Participant struct {
	ID             string           `json:"id"`
	DisplayName    string           `json:"displayName"`
	StartedAt      *time.Time       `json:"startedAt"`
	FinishedAt     *time.Time       `json:"finishedAt"`
	ElapsedSeconds *int             `json:"elapsedSeconds"`
	Answers        map[int]string   `json:"answers"` // "" = en blanco
	CorrectCount   int              `json:"correctCount"`
	IncorrectCount int              `json:"incorrectCount"`
	BlankCount     int              `json:"blankCount"`
	Score          *float64         `json:"score"`
	State          ParticipantState `json:"state"`
}

// TimeLimit devuelve el límite de tiempo como duración
func (p *Partida) TimeLimit() time.Duration {
	return time.Duration(p.TimeLimitMinutes) * time.Minute
}

// ParticipantResult resultado calculado al finalizar un participante
type ParticipantResult struct {
	CorrectCount   int      `json:"correctCount"`
	IncorrectCount int      `json:"incorrectCount"`
	BlankCount     int      `json:"blankCount"`
	Score          *float64 `json:"score"`
	ElapsedSeconds *int     `json:"elapsedSeconds"`
	QuestionCount  int      `json:"questionCount"`
}

// FinalizeOutcome respuesta de FinalizeParticipant
type FinalizeOutcome struct {
	Results         ParticipantResult `json:"results"`
	PartidaFinished bool              `json:"partidaFinished"`
}

// RankingEntry posición de un participante terminado
type RankingEntry struct {
	Position       int      `json:"position"`
	DisplayName    string   `json:"displayName"`
	CorrectCount   int      `json:"correctCount"`
	IncorrectCount int      `json:"incorrectCount"`
	BlankCount     int      `json:"blankCount"`
	Score          *float64 `json:"score"`
	ElapsedSeconds *int     `json:"elapsedSeconds"`
}

// ParticipantSummary vista pública de un participante (sin respuestas ni notas)
type ParticipantSummary struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	State       ParticipantState `json:"state"`
}

// PartidaStatusSummary respuesta de GetStatus
type PartidaStatusSummary struct {
	Code                 string               `json:"code"`
	Status               PartidaStatus        `json:"status"`
	QuestionCount        int                  `json:"questionCount"`
	TimeLimitMinutes     int                  `json:"timeLimitMinutes"`
	FirstPlayerStartedAt *time.Time           `json:"firstPlayerStartedAt"`
	Participants         []ParticipantSummary `json:"participants"`
}

// CreatePartidaRequest cuerpo de POST /api/partidas
type CreatePartidaRequest struct {
	QuestionCount    int    `json:"questionCount"`
	TimeLimitMinutes int    `json:"timeLimitMinutes"`
	Difficulty       string `json:"difficulty"`
	CreatorID        *int   `json:"creatorId"`
}

// ParticipantRequest cuerpo común de join/start/answer/finish
type ParticipantRequest struct {
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName,omitempty"`
	QuestionID    int     `json:"questionId,omitempty"`
	Answer        *string `json:"answer,omitempty"`
}
