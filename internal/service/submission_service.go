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

// Submission errors
var (
	ErrPurchaseNotPaid  = errors.New("purchase is not paid")
	ErrPurchaseMismatch = errors.New("purchase does not belong to this test")
	ErrSubmissionClosed = errors.New("submission is already submitted")
	ErrQuestionMismatch = errors.New("question does not belong to this test")
)

// SubmissionDetail is a submission with the latest answer per question.
type SubmissionDetail struct {
	model.Submission
	Answers []model.Answer `json:"answers"`
}

// AnswerStore is the answer persistence the service writes through.
type AnswerStore interface {
	Insert(ctx context.Context, a *model.Answer) error
	InsertBatch(ctx context.Context, answers []model.Answer) error
	ListLatest(ctx context.Context, submissionID uuid.UUID) ([]model.Answer, error)
}

// SubmissionService handles exam attempts and their answers.
type SubmissionService struct {
	submissionRepo *repository.SubmissionRepository
	purchaseRepo   *repository.PurchaseRepository
	questionRepo   *repository.QuestionRepository
	answerRepo     AnswerStore
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(
	submissionRepo *repository.SubmissionRepository,
	purchaseRepo *repository.PurchaseRepository,
	questionRepo *repository.QuestionRepository,
	answerRepo AnswerStore,
	rdb *redis.Client,
	log zerolog.Logger,
) *SubmissionService {
	return &SubmissionService{
		submissionRepo: submissionRepo,
		purchaseRepo:   purchaseRepo,
		questionRepo:   questionRepo,
		answerRepo:     answerRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "submission_service").Logger(),
	}
}

// Create starts an attempt for a paid purchase. Calling it again while the
// attempt is in progress returns the same submission.
func (s *SubmissionService) Create(ctx context.Context, studentID int, testID, purchaseID uuid.UUID) (*model.Submission, error) {
	purchase, err := s.purchaseRepo.GetByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	// Someone else's purchase looks the same as a missing one.
	if purchase.StudentID != studentID {
		return nil, ErrNotFound
	}
	if purchase.TestID != testID {
		return nil, ErrPurchaseMismatch
	}
	if purchase.Status != model.PurchaseStatusPaid {
		return nil, ErrPurchaseNotPaid
	}

	sub, err := s.submissionRepo.CreateOrGetOpen(ctx, purchase)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	s.log.Info().
		Str("submission_id", sub.ID.String()).
		Int("student_id", studentID).
		Msg("Submission opened")
	return sub, nil
}

// AppendAnswer records an uploaded audio file as the answer to a question.
// The row goes through the persist queue; when Redis is unavailable it is
// inserted directly.
func (s *SubmissionService) AppendAnswer(ctx context.Context, studentID int, submissionID uuid.UUID, req model.AppendAnswerRequest) error {
	sub, err := s.owned(ctx, studentID, submissionID)
	if err != nil {
		return err
	}
	if sub.Status != model.SubmissionStatusInProgress {
		return ErrSubmissionClosed
	}

	ok, err := s.questionRepo.BelongsToTest(ctx, req.QuestionID, sub.TestID)
	if err != nil {
		return fmt.Errorf("check question: %w", err)
	}
	if !ok {
		return ErrQuestionMismatch
	}

	answer := model.Answer{
		SubmissionID: submissionID,
		QuestionID:   req.QuestionID,
		AudioURL:     req.AudioURL,
		CreatedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Answer queue unavailable, inserting directly")
		if err := s.answerRepo.Insert(ctx, &answer); err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
	}
	return nil
}

// Complete flushes this submission's queued answers and marks it submitted.
// Completing an already submitted attempt succeeds.
func (s *SubmissionService) Complete(ctx context.Context, studentID int, submissionID uuid.UUID) (*model.Submission, error) {
	sub, err := s.owned(ctx, studentID, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == model.SubmissionStatusSubmitted {
		return sub, nil
	}

	if err := s.flushQueued(ctx, submissionID); err != nil {
		return nil, err
	}

	done, err := s.submissionRepo.MarkSubmitted(ctx, submissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race with a concurrent completion.
			return s.submissionRepo.GetByID(ctx, submissionID)
		}
		return nil, fmt.Errorf("mark submitted: %w", err)
	}

	s.log.Info().Str("submission_id", submissionID.String()).Msg("Submission completed")
	return done, nil
}

// Get returns a submission with the latest answer per question.
func (s *SubmissionService) Get(ctx context.Context, studentID int, submissionID uuid.UUID) (*SubmissionDetail, error) {
	sub, err := s.owned(ctx, studentID, submissionID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answerRepo.ListLatest(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return &SubmissionDetail{Submission: *sub, Answers: answers}, nil
}

func (s *SubmissionService) owned(ctx context.Context, studentID int, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.submissionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub.StudentID != studentID {
		return nil, ErrNotFound
	}
	return sub, nil
}

// flushQueued moves this submission's answers out of the persist queue and
// into PostgreSQL. LREM decides ownership: an entry the worker popped first
// is left to the worker.
func (s *SubmissionService) flushQueued(ctx context.Context, submissionID uuid.UUID) error {
	queue := config.WorkerKey.PersistAnswersQueue
	items, err := s.rdb.LRange(ctx, queue, 0, -1).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("Answer queue unavailable, skipping flush")
		return nil
	}

	var mine []model.Answer
	for _, raw := range items {
		var a model.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil || a.SubmissionID != submissionID {
			continue
		}
		removed, err := s.rdb.LRem(ctx, queue, 1, raw).Result()
		if err != nil {
			return fmt.Errorf("claim queued answer: %w", err)
		}
		if removed == 1 {
			mine = append(mine, a)
		}
	}

	if err := s.answerRepo.InsertBatch(ctx, mine); err != nil {
		// Put them back so the worker retries.
		for _, a := range mine {
			if payload, mErr := json.Marshal(a); mErr == nil {
				s.rdb.RPush(ctx, queue, payload)
			}
		}
		return fmt.Errorf("flush answers: %w", err)
	}
	if len(mine) > 0 {
		s.log.Info().Int("count", len(mine)).Str("submission_id", submissionID.String()).Msg("Flushed queued answers")
	}
	return nil
}
