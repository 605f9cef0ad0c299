package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-oral/internal/response"
)

// ExamHandler serves exam content to students.
type ExamHandler struct {
	examService ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// ListSections godoc
// GET /api/v1/student/tests/:test_id/sections
// Returns every section of the test as a flat list with parent links.
func (h *ExamHandler) ListSections(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	sections, err := h.examService.ListSections(c.Request.Context(), id, testID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sections": sections})
}

// ListQuestions godoc
// GET /api/v1/student/sections/:section_id/questions
func (h *ExamHandler) ListQuestions(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	sectionID, ok := uuidParam(c, "section_id")
	if !ok {
		return
	}

	questions, err := h.examService.ListQuestions(c.Request.Context(), id, sectionID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}
