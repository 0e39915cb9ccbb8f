package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/backsoul/partidas/pkg/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Pregunta fila de la tabla preguntas
type Pregunta struct {
	ID         int    `gorm:"primaryKey;autoIncrement:false"`
	Texto      string `gorm:"type:text;not null"`
	OpcionA    string `gorm:"type:text"`
	OpcionB    string `gorm:"type:text"`
	OpcionC    string `gorm:"type:text"`
	OpcionD    string `gorm:"type:text"`
	Correcta   string `gorm:"size:1;not null"`
	Tema       string `gorm:"size:255"`
	Dificultad string `gorm:"size:32;index"`
	Activa     bool   `gorm:"index;not null"`
	Leyes      []Ley  `gorm:"many2many:pregunta_leyes;joinForeignKey:PreguntaID;joinReferences:LeyID"`
}

func (Pregunta) TableName() string { return "preguntas" }

// Ley normativa de origen de una pregunta
type Ley struct {
	ID     int    `gorm:"primaryKey"`
	Nombre string `gorm:"size:255;uniqueIndex;not null"`
}

func (Ley) TableName() string { return "leyes" }

// Metadatos del último fichero cargado; siempre es la fila 1
type Metadatos struct {
	ID          int    `gorm:"primaryKey;autoIncrement:false"`
	Total       int    `gorm:"not null"`
	Version     string `gorm:"size:64"`
	LastUpdated string `gorm:"size:64"`
	Descripcion string `gorm:"type:text"`
}

func (Metadatos) TableName() string { return "catalogo_metadatos" }

// QuestionRepository catálogo de preguntas sobre Postgres (gorm)
type QuestionRepository struct {
	db          *gorm.DB
	excludedLaw string
}

// Open conecta con Postgres
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("error conectando a la base de datos: %w", err)
	}
	return db, nil
}

// AutoMigrate crea o actualiza las tablas del catálogo
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Ley{}, &Pregunta{}, &Metadatos{})
}

func NewQuestionRepository(db *gorm.DB, excludedLaw string) *QuestionRepository {
	return &QuestionRepository{db: db, excludedLaw: strings.TrimSpace(excludedLaw)}
}

// RandomActiveQuestionIDs selecciona al azar preguntas activas, con texto y
// que no procedan de la ley excluida.
func (r *QuestionRepository) RandomActiveQuestionIDs(ctx context.Context, count int, difficulty string) ([]int, error) {
	query := r.db.WithContext(ctx).
		Model(&Pregunta{}).
		Where("activa = ?", true).
		Where("TRIM(texto) <> ''")

	if difficulty != "" {
		query = query.Where("LOWER(dificultad) = LOWER(?)", difficulty)
	}
	if r.excludedLaw != "" {
		query = query.Where(`NOT EXISTS (
			SELECT 1 FROM pregunta_leyes pl
			JOIN leyes l ON l.id = pl.ley_id
			WHERE pl.pregunta_id = preguntas.id AND l.nombre = ?)`, r.excludedLaw)
	}

	var ids []int
	if err := query.Order("RANDOM()").Limit(count).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("error seleccionando preguntas: %w", err)
	}
	return ids, nil
}

// QuestionsByIDs devuelve las preguntas existentes; el orden no está garantizado
func (r *QuestionRepository) QuestionsByIDs(ctx context.Context, ids []int) ([]models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var rows []Pregunta
	if err := r.db.WithContext(ctx).Preload("Leyes").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error obteniendo preguntas: %w", err)
	}

	questions := make([]models.Question, len(rows))
	for i, row := range rows {
		questions[i] = row.toModel()
	}
	return questions, nil
}

// ImportQuestions inserta o actualiza preguntas y sus leyes en una transacción
func (r *QuestionRepository) ImportQuestions(ctx context.Context, questions []models.Question) (int, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return importQuestions(tx, questions)
	})
	if err != nil {
		return 0, err
	}
	return len(questions), nil
}

// ReplaceQuestions sustituye el catálogo completo: importa las preguntas del
// fichero, borra las que ya no aparecen y guarda sus metadatos.
func (r *QuestionRepository) ReplaceQuestions(ctx context.Context, data models.QuestionsData) (int, error) {
	ids := make([]int, len(data.Questions))
	for i, q := range data.Questions {
		ids[i] = q.ID
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := importQuestions(tx, data.Questions); err != nil {
			return err
		}

		stale := tx.Model(&Pregunta{})
		if len(ids) > 0 {
			stale = stale.Where("id NOT IN ?", ids)
		}
		var staleIDs []int
		if err := stale.Pluck("id", &staleIDs).Error; err != nil {
			return fmt.Errorf("error buscando preguntas retiradas: %w", err)
		}
		if len(staleIDs) > 0 {
			if err := tx.Exec("DELETE FROM pregunta_leyes WHERE pregunta_id IN ?", staleIDs).Error; err != nil {
				return fmt.Errorf("error desenlazando leyes: %w", err)
			}
			if err := tx.Delete(&Pregunta{}, staleIDs).Error; err != nil {
				return fmt.Errorf("error borrando preguntas retiradas: %w", err)
			}
		}

		metadatos := Metadatos{
			ID:          1,
			Total:       data.Metadata.Total,
			Version:     data.Metadata.Version,
			LastUpdated: data.Metadata.LastUpdated,
			Descripcion: data.Metadata.Description,
		}
		if err := tx.Save(&metadatos).Error; err != nil {
			return fmt.Errorf("error guardando metadatos: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func importQuestions(tx *gorm.DB, questions []models.Question) error {
	for _, q := range questions {
		leyes := make([]Ley, 0, len(q.Laws))
		for _, name := range q.Laws {
			ley := Ley{Nombre: name}
			if err := tx.Where(Ley{Nombre: name}).FirstOrCreate(&ley).Error; err != nil {
				return fmt.Errorf("error guardando ley %q: %w", name, err)
			}
			leyes = append(leyes, ley)
		}

		row := fromModel(q)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("error guardando pregunta %d: %w", q.ID, err)
		}
		if err := tx.Model(&row).Association("Leyes").Replace(leyes); err != nil {
			return fmt.Errorf("error enlazando leyes de la pregunta %d: %w", q.ID, err)
		}
	}
	return nil
}

// LoadQuestionsFromFile sustituye el catálogo por el mismo JSON que usa el
// catálogo de Redis
func (r *QuestionRepository) LoadQuestionsFromFile(ctx context.Context, filePath string) (int, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("error leyendo archivo JSON: %w", err)
	}
	var data models.QuestionsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, fmt.Errorf("error parsing JSON: %w", err)
	}
	return r.ReplaceQuestions(ctx, data)
}

// GetQuestionMetadata devuelve los metadatos del último fichero cargado
func (r *QuestionRepository) GetQuestionMetadata(ctx context.Context) (map[string]interface{}, error) {
	var m Metadatos
	if err := r.db.WithContext(ctx).First(&m, 1).Error; err != nil {
		return nil, fmt.Errorf("error obteniendo metadatos: %w", err)
	}
	return map[string]interface{}{
		"totalQuestions": m.Total,
		"version":        m.Version,
		"lastUpdated":    m.LastUpdated,
		"description":    m.Descripcion,
	}, nil
}

func (r *QuestionRepository) GetQuestionCount(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Pregunta{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *QuestionRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p Pregunta) toModel() models.Question {
	laws := make([]string, len(p.Leyes))
	for i, l := range p.Leyes {
		laws[i] = l.Nombre
	}
	return models.Question{
		ID:   p.ID,
		Text: p.Texto,
		Options: map[string]string{
			"A": p.OpcionA,
			"B": p.OpcionB,
			"C": p.OpcionC,
			"D": p.OpcionD,
		},
		Correct:    p.Correcta,
		Topic:      p.Tema,
		Difficulty: p.Dificultad,
		Laws:       laws,
		Active:     p.Activa,
	}
}

func fromModel(q models.Question) Pregunta {
	return Pregunta{
		ID:         q.ID,
		Texto:      q.Text,
		OpcionA:    q.Options["A"],
		OpcionB:    q.Options["B"],
		OpcionC:    q.Options["C"],
		OpcionD:    q.Options["D"],
		Correcta:   strings.ToUpper(strings.TrimSpace(q.Correct)),
		Tema:       q.Topic,
		Dificultad: q.Difficulty,
		Activa:     q.Active,
	}
}
