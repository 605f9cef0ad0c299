package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-oral/internal/model"
)

// PurchaseRepository handles purchase data access.
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository creates a new PurchaseRepository.
func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// GetByID retrieves a purchase.
func (r *PurchaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Purchase, error) {
	p := &model.Purchase{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, test_id, status, created_at FROM purchases WHERE id = $1`, id,
	).Scan(&p.ID, &p.StudentID, &p.TestID, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// HasPaid reports whether the student holds a paid purchase for the test.
func (r *PurchaseRepository) HasPaid(ctx context.Context, studentID int, testID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM purchases WHERE student_id = $1 AND test_id = $2 AND status = $3
		)`, studentID, testID, model.PurchaseStatusPaid,
	).Scan(&ok)
	return ok, err
}

// Create records a purchase.
func (r *PurchaseRepository) Create(ctx context.Context, studentID int, testID uuid.UUID, status model.PurchaseStatus) (*model.Purchase, error) {
	p := &model.Purchase{StudentID: studentID, TestID: testID, Status: status}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO purchases (student_id, test_id, status) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		studentID, testID, status,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
