package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/config"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/repository"
)

// Domain errors
var (
	ErrNotFound         = errors.New("not found")
	ErrTestNotPurchased = errors.New("test has not been purchased")
)

// ExamService serves exam content: sections and their questions. Payloads are
// cached in Redis; a cache failure falls through to PostgreSQL.
type ExamService struct {
	sectionRepo  *repository.SectionRepository
	questionRepo *repository.QuestionRepository
	purchaseRepo *repository.PurchaseRepository
	rdb          *redis.Client
	ttl          time.Duration
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	sectionRepo *repository.SectionRepository,
	questionRepo *repository.QuestionRepository,
	purchaseRepo *repository.PurchaseRepository,
	rdb *redis.Client,
	ttl time.Duration,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		sectionRepo:  sectionRepo,
		questionRepo: questionRepo,
		purchaseRepo: purchaseRepo,
		rdb:          rdb,
		ttl:          ttl,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// CheckAccess returns ErrTestNotPurchased unless the student paid for the test.
// Only positive answers are cached so a fresh payment takes effect at once.
func (s *ExamService) CheckAccess(ctx context.Context, studentID int, testID uuid.UUID) error {
	key := config.CacheKey.StudentTestAccessKey(testID.String(), studentID)
	if n, err := s.rdb.Exists(ctx, key).Result(); err == nil && n == 1 {
		return nil
	}

	ok, err := s.purchaseRepo.HasPaid(ctx, studentID, testID)
	if err != nil {
		return fmt.Errorf("check purchase: %w", err)
	}
	if !ok {
		return ErrTestNotPurchased
	}

	if err := s.rdb.Set(ctx, key, 1, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache access")
	}
	return nil
}

// ListSections returns the flat section list of a test, parent links
// included. An empty list is a valid answer.
func (s *ExamService) ListSections(ctx context.Context, studentID int, testID uuid.UUID) ([]model.Section, error) {
	if err := s.CheckAccess(ctx, studentID, testID); err != nil {
		return nil, err
	}

	key := config.CacheKey.TestSectionsKey(testID.String())
	var sections []model.Section
	if s.cached(ctx, key, &sections) {
		return sections, nil
	}

	sections, err := s.sectionRepo.ListByTest(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	s.store(ctx, key, sections)
	return sections, nil
}

// ListQuestions returns the questions of one section.
func (s *ExamService) ListQuestions(ctx context.Context, studentID int, sectionID uuid.UUID) ([]model.Question, error) {
	section, err := s.sectionRepo.GetByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get section: %w", err)
	}
	if err := s.CheckAccess(ctx, studentID, section.TestID); err != nil {
		return nil, err
	}

	key := config.CacheKey.SectionQuestionsKey(sectionID.String())
	var questions []model.Question
	if s.cached(ctx, key, &questions) {
		return questions, nil
	}

	questions, err = s.questionRepo.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	s.store(ctx, key, questions)
	return questions, nil
}

// ─── Cache helpers ──────────────────────────────────────────────────────────

func (s *ExamService) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry")
		return false
	}
	return true
}

func (s *ExamService) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
