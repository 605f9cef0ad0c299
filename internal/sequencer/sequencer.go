// Package sequencer merges independently fetched per-section question lists
// into the single ordered list the exam runner walks.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-oral/internal/model"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotReady means the test has no sections or no questions to show.
	ErrNotReady = errors.New("exam not ready")
	// ErrIncomplete means at least one section's questions could not be loaded.
	ErrIncomplete = errors.New("question list incomplete")
)

// DefaultFetchConcurrency bounds concurrent per-section question fetches.
const DefaultFetchConcurrency = 4

// QuestionSource fetches the questions of one section.
type QuestionSource interface {
	ListQuestions(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error)
}

// SectionError names the section whose fetch failed.
type SectionError struct {
	SectionID     uuid.UUID
	DisplayNumber string
	Title         string
	Err           error
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("%s: section %s %q: %v", ErrIncomplete, e.DisplayNumber, e.Title, e.Err)
}

func (e *SectionError) Unwrap() []error { return []error{ErrIncomplete, e.Err} }

// Build fetches every section's questions and returns them grouped by section
// in the given (flattened) order, each group sorted by QuestionNumber.
// A single failed fetch fails the whole build; a partial exam is never returned.
func Build(ctx context.Context, sections []*model.HierarchicalSection, src QuestionSource, concurrency int) ([]model.FlatQuestion, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: test has no sections", ErrNotReady)
	}
	if concurrency < 1 {
		concurrency = DefaultFetchConcurrency
	}

	perSection := make([][]model.Question, len(sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, s := range sections {
		g.Go(func() error {
			qs, err := src.ListQuestions(gctx, s.ID)
			if err != nil {
				return &SectionError{SectionID: s.ID, DisplayNumber: s.DisplayNumber, Title: s.Title, Err: err}
			}
			perSection[i] = qs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Merge(sections, perSection)
}

// Merge is the pure half of Build: perSection[i] holds the questions of
// sections[i].
func Merge(sections []*model.HierarchicalSection, perSection [][]model.Question) ([]model.FlatQuestion, error) {
	if len(perSection) != len(sections) {
		return nil, fmt.Errorf("%w: got question lists for %d of %d sections", ErrIncomplete, len(perSection), len(sections))
	}

	var out []model.FlatQuestion
	for i, s := range sections {
		qs := make([]model.Question, len(perSection[i]))
		copy(qs, perSection[i])
		sort.SliceStable(qs, func(a, b int) bool {
			return qs[a].QuestionNumber < qs[b].QuestionNumber
		})

		for _, q := range qs {
			out = append(out, model.FlatQuestion{
				Question:               q,
				SectionIndex:           i,
				SectionTitle:           s.Title,
				SectionDisplayNumber:   s.DisplayNumber,
				SectionPreparationTime: s.PreparationTime,
				SectionSpeakingTime:    s.SpeakingTime,
				SectionImageURL:        s.ImageURL,
			})
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: test has no questions", ErrNotReady)
	}
	return out, nil
}
