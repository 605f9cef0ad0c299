package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus enumerates submission states.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in_progress"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
)

// Submission is one exam attempt by one student against one test.
type Submission struct {
	ID          uuid.UUID        `json:"id"`
	PurchaseID  uuid.UUID        `json:"purchase_id"`
	TestID      uuid.UUID        `json:"test_id"`
	StudentID   int              `json:"student_id"`
	Status      SubmissionStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	SubmittedAt *time.Time       `json:"submitted_at,omitempty"`
}

// Answer links an uploaded audio file to a question of a submission.
// Rows are append-only; the newest row for a question wins.
type Answer struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	AudioURL     string    `json:"audio_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateSubmissionRequest is the payload for starting an attempt.
type CreateSubmissionRequest struct {
	PurchaseID uuid.UUID `json:"purchase_id" binding:"required"`
}

// AppendAnswerRequest is the payload for attaching a recorded answer.
type AppendAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	AudioURL   string    `json:"audio_url" binding:"required,max=512,audiofile"`
}
