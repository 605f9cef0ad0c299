package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-oral/internal/model"
)

const submissionColumns = `id, purchase_id, test_id, student_id, status, started_at, submitted_at`

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func scanSubmission(row interface{ Scan(...any) error }) (*model.Submission, error) {
	s := &model.Submission{}
	if err := row.Scan(&s.ID, &s.PurchaseID, &s.TestID, &s.StudentID, &s.Status, &s.StartedAt, &s.SubmittedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a submission.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
}

// CreateOrGetOpen starts an attempt for a purchase, or returns the attempt
// already in progress for it.
func (r *SubmissionRepository) CreateOrGetOpen(ctx context.Context, purchase *model.Purchase) (*model.Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx,
		`INSERT INTO submissions (purchase_id, test_id, student_id, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (purchase_id) WHERE status = 'in_progress' DO NOTHING
		 RETURNING `+submissionColumns,
		purchase.ID, purchase.TestID, purchase.StudentID, model.SubmissionStatusInProgress))
	if err == nil {
		return s, nil
	}
	if !isNoRows(err) {
		return nil, err
	}
	return scanSubmission(r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE purchase_id = $1 AND status = $2`,
		purchase.ID, model.SubmissionStatusInProgress))
}

// MarkSubmitted closes an in-progress submission. It returns pgx.ErrNoRows
// when the submission was not in progress.
func (r *SubmissionRepository) MarkSubmitted(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	return scanSubmission(r.pool.QueryRow(ctx,
		`UPDATE submissions SET status = $1, submitted_at = NOW()
		 WHERE id = $2 AND status = $3
		 RETURNING `+submissionColumns,
		model.SubmissionStatusSubmitted, id, model.SubmissionStatusInProgress))
}
