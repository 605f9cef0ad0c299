package model

import (
	"github.com/google/uuid"
)

// Question is a single spoken-answer prompt inside a section.
// PreparationTime and SpeakingTime override the section defaults when set.
type Question struct {
	ID              uuid.UUID `json:"id"`
	SectionID       uuid.UUID `json:"section_id"`
	QuestionNumber  int       `json:"question_number"`
	QuestionText    string    `json:"question_text"`
	ImageURL        *string   `json:"image_url,omitempty"`
	PreparationTime *int      `json:"preparation_time,omitempty"`
	SpeakingTime    *int      `json:"speaking_time,omitempty"`
	KeyFactsPlus    *string   `json:"key_facts_plus,omitempty"`
	KeyFactsMinus   *string   `json:"key_facts_minus,omitempty"`
}

// FlatQuestion is a Question annotated with its owning section, in the global
// depth-first order the exam runner walks.
type FlatQuestion struct {
	Question
	SectionIndex           int     `json:"section_index"`
	SectionTitle           string  `json:"section_title"`
	SectionDisplayNumber   string  `json:"section_display_number"`
	SectionPreparationTime int     `json:"section_preparation_time"`
	SectionSpeakingTime    int     `json:"section_speaking_time"`
	SectionImageURL        *string `json:"section_image_url,omitempty"`
}

// PreparationSeconds returns the effective preparation duration.
func (q FlatQuestion) PreparationSeconds() int {
	if q.PreparationTime != nil {
		return nonNegative(*q.PreparationTime)
	}
	return nonNegative(q.SectionPreparationTime)
}

// SpeakingSeconds returns the effective speaking duration.
func (q FlatQuestion) SpeakingSeconds() int {
	if q.SpeakingTime != nil {
		return nonNegative(*q.SpeakingTime)
	}
	return nonNegative(q.SectionSpeakingTime)
}

// Image returns the question image, falling back to the section image.
func (q FlatQuestion) Image() *string {
	if q.ImageURL != nil && *q.ImageURL != "" {
		return q.ImageURL
	}
	return q.SectionImageURL
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
