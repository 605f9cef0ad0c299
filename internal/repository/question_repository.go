package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-oral/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListBySection returns a section's questions ordered by number.
func (r *QuestionRepository) ListBySection(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, section_id, question_number, question_text, image_url,
		        preparation_time, speaking_time, key_facts_plus, key_facts_minus
		 FROM questions
		 WHERE section_id = $1
		 ORDER BY question_number, id`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.SectionID, &q.QuestionNumber, &q.QuestionText, &q.ImageURL,
			&q.PreparationTime, &q.SpeakingTime, &q.KeyFactsPlus, &q.KeyFactsMinus); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// BelongsToTest reports whether a question sits in a section of testID.
func (r *QuestionRepository) BelongsToTest(ctx context.Context, questionID, testID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM questions q
			JOIN sections s ON s.id = q.section_id
			WHERE q.id = $1 AND s.test_id = $2
		)`, questionID, testID,
	).Scan(&ok)
	return ok, err
}
