package sectiontree

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-oral/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func section(num int, parent *model.Section) model.Section {
	s := model.Section{ID: uuid.New(), SectionNumber: num, Title: "S"}
	if parent != nil {
		id := parent.ID
		s.ParentSectionID = &id
	}
	return s
}

func displayNumbers(flat []*model.HierarchicalSection) []string {
	out := make([]string, len(flat))
	for i, n := range flat {
		out[i] = n.DisplayNumber
	}
	return out
}

func TestBuildAndFlattenOrder(t *testing.T) {
	s1 := section(1, nil)
	s2 := section(2, nil)
	s21 := section(1, &s2)
	s22 := section(2, &s2)
	s221 := section(1, &s22)
	s3 := section(3, nil)

	// Deliberately scrambled input.
	input := []model.Section{s221, s3, s22, s1, s21, s2}

	roots, anomalies := Build(input)
	require.Empty(t, anomalies)
	require.Len(t, roots, 3)

	flat := Flatten(roots)
	require.Len(t, flat, len(input))

	wantIDs := []uuid.UUID{s1.ID, s2.ID, s21.ID, s22.ID, s221.ID, s3.ID}
	for i, n := range flat {
		assert.Equal(t, wantIDs[i], n.ID, "position %d", i)
	}
	assert.Equal(t, []string{"1", "2", "2.1", "2.2", "2.2.1", "3"}, displayNumbers(flat))
}

func TestBuildIsDeterministicAcrossInputOrder(t *testing.T) {
	a := section(2, nil)
	b := section(1, nil)
	c := section(1, &a)

	r1, _ := Build([]model.Section{a, b, c})
	r2, _ := Build([]model.Section{c, b, a})

	assert.Equal(t, displayNumbers(Flatten(r1)), displayNumbers(Flatten(r2)))
	for i, n := range Flatten(r1) {
		assert.Equal(t, n.ID, Flatten(r2)[i].ID)
	}
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	a := section(2, nil)
	b := section(1, nil)
	input := []model.Section{a, b}

	Build(input)
	assert.Equal(t, a.ID, input[0].ID)
	assert.Equal(t, b.ID, input[1].ID)
}

func TestOrphanBecomesRoot(t *testing.T) {
	ghost := section(9, nil)
	s1 := section(1, nil)
	orphan := section(2, &ghost)

	roots, anomalies := Build([]model.Section{s1, orphan})
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyOrphan, anomalies[0].Kind)
	assert.Equal(t, orphan.ID, anomalies[0].SectionID)
	assert.Equal(t, ghost.ID, anomalies[0].ParentID)

	flat := Flatten(roots)
	require.Len(t, flat, 2)
	assert.Equal(t, orphan.ID, flat[1].ID)
	assert.Equal(t, "2", flat[1].DisplayNumber)
}

func TestCycleIsBrokenWithoutLosingSections(t *testing.T) {
	a := model.Section{ID: uuid.New(), SectionNumber: 1}
	b := model.Section{ID: uuid.New(), SectionNumber: 2}
	c := model.Section{ID: uuid.New(), SectionNumber: 3}
	aID, bID, cID := a.ID, b.ID, c.ID
	a.ParentSectionID = &cID
	b.ParentSectionID = &aID
	c.ParentSectionID = &bID

	roots, anomalies := Build([]model.Section{a, b, c})
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyCycle, anomalies[0].Kind)
	assert.Equal(t, aID, anomalies[0].SectionID)

	flat := Flatten(roots)
	require.Len(t, flat, 3)
	assert.Equal(t, []uuid.UUID{aID, bID, cID}, []uuid.UUID{flat[0].ID, flat[1].ID, flat[2].ID})
	assert.Equal(t, []string{"1", "1.1", "1.1.1"}, displayNumbers(flat))
}

func TestSelfParentIsACycle(t *testing.T) {
	a := model.Section{ID: uuid.New(), SectionNumber: 1}
	id := a.ID
	a.ParentSectionID = &id

	roots, anomalies := Build([]model.Section{a})
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyCycle, anomalies[0].Kind)
	require.Len(t, roots, 1)
}

func TestDuplicateSectionIsReported(t *testing.T) {
	a := section(1, nil)
	roots, anomalies := Build([]model.Section{a, a})
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyDuplicate, anomalies[0].Kind)
	assert.Len(t, Flatten(roots), 1)
}

func TestDisplayNumbersAreUnique(t *testing.T) {
	var input []model.Section
	for i := 1; i <= 4; i++ {
		root := section(i, nil)
		input = append(input, root)
		for j := 1; j <= 3; j++ {
			input = append(input, section(j, &root))
		}
	}

	roots, anomalies := Build(input)
	require.Empty(t, anomalies)

	seen := map[string]bool{}
	for _, n := range Flatten(roots) {
		assert.False(t, seen[n.DisplayNumber], "duplicate %s", n.DisplayNumber)
		seen[n.DisplayNumber] = true
	}
	assert.Len(t, seen, len(input))
}

func TestFlattenResortsAndSurvivesCyclicTree(t *testing.T) {
	a := &model.HierarchicalSection{Section: model.Section{ID: uuid.New(), SectionNumber: 2}}
	b := &model.HierarchicalSection{Section: model.Section{ID: uuid.New(), SectionNumber: 1}}
	a.Children = []*model.HierarchicalSection{a}

	flat := Flatten([]*model.HierarchicalSection{a, b})
	require.Len(t, flat, 2)
	assert.Equal(t, b.ID, flat[0].ID)
	assert.Equal(t, a.ID, flat[1].ID)
}
