// Package handler binds HTTP routes to the services.
package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-oral/internal/middleware"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/response"
	"github.com/stemsi/exstem-oral/internal/service"
)

// ─── Service contracts ──────────────────────────────────────────────

type AuthService interface {
	Login(ctx context.Context, req model.StudentLoginRequest) (*model.StudentLoginResponse, error)
	GetStudent(ctx context.Context, studentID int) (*model.Student, error)
}

type ExamService interface {
	ListSections(ctx context.Context, studentID int, testID uuid.UUID) ([]model.Section, error)
	ListQuestions(ctx context.Context, studentID int, sectionID uuid.UUID) ([]model.Question, error)
}

type SubmissionService interface {
	Create(ctx context.Context, studentID int, testID, purchaseID uuid.UUID) (*model.Submission, error)
	AppendAnswer(ctx context.Context, studentID int, submissionID uuid.UUID, req model.AppendAnswerRequest) error
	Complete(ctx context.Context, studentID int, submissionID uuid.UUID) (*model.Submission, error)
	Get(ctx context.Context, studentID int, submissionID uuid.UUID) (*service.SubmissionDetail, error)
}

type MediaService interface {
	SaveAudio(file multipart.File, header *multipart.FileHeader) (string, error)
}

// ─── Helpers ────────────────────────────────────────────────────────

// studentID returns the authenticated student, or writes 401 and false.
func studentID(c *gin.Context) (int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, false
	}
	return claims.StudentID, true
}

// uuidParam parses a path parameter, or writes 400 and false.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// failService maps domain errors to the envelope.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrTestNotPurchased):
		response.Fail(c, http.StatusForbidden, response.ErrTestNotPurchased)
	case errors.Is(err, service.ErrPurchaseNotPaid):
		response.Fail(c, http.StatusPaymentRequired, response.ErrPurchaseNotPaid)
	case errors.Is(err, service.ErrPurchaseMismatch):
		response.FailWithMessage(c, http.StatusUnprocessableEntity, response.ErrInvalidPayload, err.Error())
	case errors.Is(err, service.ErrSubmissionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionClosed)
	case errors.Is(err, service.ErrQuestionMismatch):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrQuestionMismatch)
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
