package models

// Question representa una pregunta completa del catálogo
type Question struct {
	ID         int               `json:"id"`
	Text       string            `json:"question"`
	Options    map[string]string `json:"options"` // claves "A".."D"
	Correct    string            `json:"correctAnswer"`
	Topic      string            `json:"topic,omitempty"`
	Difficulty string            `json:"difficulty,omitempty"`
	Laws       []string          `json:"laws,omitempty"`
	Active     bool              `json:"active"`
}

// HasLaw indica si la pregunta procede de la ley indicada
func (q Question) HasLaw(law string) bool {
	for _, l := range q.Laws {
		if l == law {
			return true
		}
	}
	return false
}

// QuestionsData estructura del fichero JSON de preguntas
type QuestionsData struct {
	Questions []Question `json:"questions"`
	Metadata  struct {
		Total       int    `json:"totalQuestions"`
		Version     string `json:"version"`
		LastUpdated string `json:"lastUpdated"`
		Description string `json:"description"`
	} `json:"metadata"`
}

// PublicQuestion vista de una pregunta sin la respuesta correcta
type PublicQuestion struct {
	ID      int               `json:"id"`
	Text    string            `json:"question"`
	Options map[string]string `json:"options"`
	Topic   string            `json:"topic,omitempty"`
	Laws    []string          `json:"laws,omitempty"`
}

// ReviewItem pregunta con la respuesta del participante para la revisión final
type ReviewItem struct {
	ID         int               `json:"id"`
	Text       string            `json:"question"`
	Options    map[string]string `json:"options"`
	Correct    string            `json:"correctAnswer"`
	Topic      string            `json:"topic,omitempty"`
	Laws       []string          `json:"laws,omitempty"`
	Answer     *string           `json:"answer"`
	IsCorrect  bool              `json:"isCorrect"`
	IsAnswered bool              `json:"isAnswered"`
}

// APIResponse estructura estándar para respuestas de API
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}
