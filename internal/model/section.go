package model

import (
	"github.com/google/uuid"
)

// Section is a named group of questions sharing default timers. Sections nest
// through ParentSectionID and form a forest per test.
type Section struct {
	ID              uuid.UUID  `json:"id"`
	TestID          uuid.UUID  `json:"test_id"`
	SectionNumber   int        `json:"section_number"`
	Title           string     `json:"title"`
	Instructions    string     `json:"instructions"`
	PreparationTime int        `json:"preparation_time"` // seconds
	SpeakingTime    int        `json:"speaking_time"`    // seconds
	ImageURL        *string    `json:"image_url,omitempty"`
	ParentSectionID *uuid.UUID `json:"parent_section_id,omitempty"`
}

// HierarchicalSection is a Section placed in its tree. It is derived from the
// flat section list and never persisted.
type HierarchicalSection struct {
	Section
	Children      []*HierarchicalSection `json:"children"`
	DisplayNumber string                 `json:"display_number"`
}
