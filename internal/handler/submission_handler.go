package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stemsi/exstem-oral/internal/response"
	"github.com/stemsi/exstem-oral/internal/validator"
)

// SubmissionHandler handles exam attempts.
type SubmissionHandler struct {
	submissionService SubmissionService
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submissionService SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: submissionService}
}

// CreateSubmission godoc
// POST /api/v1/student/tests/:test_id/submissions
// Opens an attempt for a paid purchase, or returns the one in progress.
func (h *SubmissionHandler) CreateSubmission(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	var req model.CreateSubmissionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.submissionService.Create(c.Request.Context(), id, testID, req.PurchaseID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"submission": sub})
}

// AppendAnswer godoc
// POST /api/v1/student/submissions/:id/answers
// Queues an answer row. Re-recording appends; the latest row wins.
func (h *SubmissionHandler) AppendAnswer(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	submissionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req model.AppendAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.submissionService.AppendAnswer(c.Request.Context(), id, submissionID, req); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// CompleteSubmission godoc
// POST /api/v1/student/submissions/:id/complete
// Idempotent: completing a submitted attempt returns it unchanged.
func (h *SubmissionHandler) CompleteSubmission(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	submissionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	sub, err := h.submissionService.Complete(c.Request.Context(), id, submissionID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

// GetSubmission godoc
// GET /api/v1/student/submissions/:id
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	submissionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.submissionService.Get(c.Request.Context(), id, submissionID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": detail})
}
