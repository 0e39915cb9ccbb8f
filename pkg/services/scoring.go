package services

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/backsoul/partidas/pkg/models"
)

// scoreParticipant cierra al participante en finishedAt y calcula aciertos,
// fallos, blancos y nota sobre 10 recorriendo questionIDs en orden.
func scoreParticipant(p *models.Participant, questionIDs []int, correct map[int]string, denominator int, finishedAt time.Time) {
	elapsed := 0
	if p.StartedAt != nil {
		elapsed = int(finishedAt.Sub(*p.StartedAt) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
	}

	p.CorrectCount, p.IncorrectCount, p.BlankCount = 0, 0, 0
	for _, id := range questionIDs {
		answer := p.Answers[id]
		switch {
		case answer == "":
			p.BlankCount++
		case answer == correct[id]:
			p.CorrectCount++
		default:
			p.IncorrectCount++
		}
	}

	score := 0.0
	if denominator > 0 {
		score = math.Round(float64(p.CorrectCount)/float64(denominator)*10*100) / 100
	}

	p.FinishedAt = &finishedAt
	p.ElapsedSeconds = &elapsed
	p.Score = &score
	p.State = models.ParticipantFinished
}

// scoreDenominator usa las preguntas realmente entregadas; questionCount solo
// si la partida no tiene ninguna.
func scoreDenominator(p *models.Partida) int {
	if len(p.QuestionIDs) > 0 {
		return len(p.QuestionIDs)
	}
	return p.QuestionCount
}

func resultOf(p *models.Participant, denominator int) models.ParticipantResult {
	return models.ParticipantResult{
		CorrectCount:   p.CorrectCount,
		IncorrectCount: p.IncorrectCount,
		BlankCount:     p.BlankCount,
		Score:          p.Score,
		ElapsedSeconds: p.ElapsedSeconds,
		QuestionCount:  denominator,
	}
}

// correctAnswers indexa la letra correcta de cada pregunta
func correctAnswers(questions []models.Question) map[int]string {
	out := make(map[int]string, len(questions))
	for _, q := range questions {
		out[q.ID] = normalizeAnswer(q.Correct)
	}
	return out
}

func normalizeAnswer(answer string) string {
	return strings.ToUpper(strings.TrimSpace(answer))
}

// orderQuestions reordena las preguntas del catálogo según ids y descarta las que ya no existen
func orderQuestions(ids []int, questions []models.Question) []models.Question {
	byID := make(map[int]models.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	ordered := make([]models.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered
}

// rankingBefore: más aciertos primero; a igualdad, menos segundos; sin tiempo al final
func rankingBefore(a, b *models.Participant) bool {
	if a.CorrectCount != b.CorrectCount {
		return a.CorrectCount > b.CorrectCount
	}
	switch {
	case a.ElapsedSeconds == nil && b.ElapsedSeconds == nil:
	case a.ElapsedSeconds == nil:
		return false
	case b.ElapsedSeconds == nil:
		return true
	case *a.ElapsedSeconds != *b.ElapsedSeconds:
		return *a.ElapsedSeconds < *b.ElapsedSeconds
	}
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.ID < b.ID
}

func buildRanking(p *models.Partida) []models.RankingEntry {
	finished := make([]*models.Participant, 0, len(p.Participants))
	for _, part := range p.Participants {
		if part.State == models.ParticipantFinished {
			finished = append(finished, part)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return rankingBefore(finished[i], finished[j])
	})

	ranking := make([]models.RankingEntry, len(finished))
	for i, part := range finished {
		ranking[i] = models.RankingEntry{
			Position:       i + 1,
			DisplayName:    part.DisplayName,
			CorrectCount:   part.CorrectCount,
			IncorrectCount: part.IncorrectCount,
			BlankCount:     part.BlankCount,
			Score:          part.Score,
			ElapsedSeconds: part.ElapsedSeconds,
		}
	}
	return ranking
}
