package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-oral/internal/model"
)

// AnswerRepository handles answer data access. Answers are append-only.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Insert appends one answer row.
func (r *AnswerRepository) Insert(ctx context.Context, a *model.Answer) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO answers (submission_id, question_id, audio_url, created_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))
		 RETURNING id, created_at`,
		a.SubmissionID, a.QuestionID, a.AudioURL, nullTime(a.CreatedAt),
	).Scan(&a.ID, &a.CreatedAt)
}

// InsertBatch appends many answers in one round trip, preserving each
// answer's original created_at so the latest recording still wins.
func (r *AnswerRepository) InsertBatch(ctx context.Context, answers []model.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(
			`INSERT INTO answers (submission_id, question_id, audio_url, created_at)
			 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
			a.SubmissionID, a.QuestionID, a.AudioURL, nullTime(a.CreatedAt))
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range answers {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert answer %d: %w", i, err)
		}
	}
	return nil
}

// ListLatest returns the newest answer per question of a submission.
func (r *AnswerRepository) ListLatest(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (question_id) id, submission_id, question_id, audio_url, created_at
		 FROM answers
		 WHERE submission_id = $1
		 ORDER BY question_id, created_at DESC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.AudioURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func isNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
