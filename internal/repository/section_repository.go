package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-oral/internal/model"
)

const sectionColumns = `id, test_id, section_number, title, instructions,
	preparation_time, speaking_time, image_url, parent_section_id`

// SectionRepository handles section data access.
type SectionRepository struct {
	pool *pgxpool.Pool
}

// NewSectionRepository creates a new SectionRepository.
func NewSectionRepository(pool *pgxpool.Pool) *SectionRepository {
	return &SectionRepository{pool: pool}
}

// ListByTest returns every section of a test as stored, parent links
// included. Tree building is left to the client.
func (r *SectionRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Section, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE test_id = $1 ORDER BY section_number, id`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sections := []model.Section{}
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.TestID, &s.SectionNumber, &s.Title, &s.Instructions,
			&s.PreparationTime, &s.SpeakingTime, &s.ImageURL, &s.ParentSectionID); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// GetByID retrieves one section.
func (r *SectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Section, error) {
	s := &model.Section{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+sectionColumns+` FROM sections WHERE id = $1`, id,
	).Scan(&s.ID, &s.TestID, &s.SectionNumber, &s.Title, &s.Instructions,
		&s.PreparationTime, &s.SpeakingTime, &s.ImageURL, &s.ParentSectionID)
	if err != nil {
		return nil, err
	}
	return s, nil
}
