// Package sectiontree turns the flat, parent-pointer section list of a test
// into an ordered tree with display numbers, and flattens it back into the
// depth-first order used for question numbering and navigation.
package sectiontree

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-oral/internal/model"
)

// AnomalyKind classifies a structural problem found while building the tree.
type AnomalyKind string

const (
	AnomalyOrphan    AnomalyKind = "orphan"
	AnomalyCycle     AnomalyKind = "cycle"
	AnomalyDuplicate AnomalyKind = "duplicate"
)

// Anomaly reports a section that could not be placed where its data says.
// Orphans and cycle members are promoted to roots; duplicates are dropped.
type Anomaly struct {
	Kind      AnomalyKind
	SectionID uuid.UUID
	ParentID  uuid.UUID
}

func (a Anomaly) String() string {
	switch a.Kind {
	case AnomalyOrphan:
		return fmt.Sprintf("section %s references unknown parent %s, treated as root", a.SectionID, a.ParentID)
	case AnomalyCycle:
		return fmt.Sprintf("section %s closes a parent cycle through %s, treated as root", a.SectionID, a.ParentID)
	default:
		return fmt.Sprintf("section %s appears more than once, later copies ignored", a.SectionID)
	}
}

// Build links sections into a forest ordered by SectionNumber at every depth
// and assigns dot-separated display numbers. It does not mutate its input and
// returns the same tree for the same input regardless of input order.
func Build(sections []model.Section) ([]*model.HierarchicalSection, []Anomaly) {
	var anomalies []Anomaly

	ordered := make([]model.Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		return lessSection(ordered[i], ordered[j])
	})

	nodes := make(map[uuid.UUID]*model.HierarchicalSection, len(ordered))
	ids := make([]uuid.UUID, 0, len(ordered))
	for _, s := range ordered {
		if _, dup := nodes[s.ID]; dup {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyDuplicate, SectionID: s.ID})
			continue
		}
		nodes[s.ID] = &model.HierarchicalSection{Section: s, Children: []*model.HierarchicalSection{}}
		ids = append(ids, s.ID)
	}

	parent := make(map[uuid.UUID]uuid.UUID, len(ids))
	for _, id := range ids {
		p := nodes[id].ParentSectionID
		if p == nil {
			continue
		}
		if _, ok := nodes[*p]; !ok {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyOrphan, SectionID: id, ParentID: *p})
			continue
		}
		parent[id] = *p
	}

	anomalies = append(anomalies, breakCycles(ids, nodes, parent)...)

	var roots []*model.HierarchicalSection
	for _, id := range ids {
		node := nodes[id]
		if p, ok := parent[id]; ok {
			nodes[p].Children = append(nodes[p].Children, node)
			continue
		}
		roots = append(roots, node)
	}

	sortSiblings(roots)
	number(roots, "")
	return roots, anomalies
}

// breakCycles walks every ancestor chain once. When a chain revisits a node
// still on the current path, the lowest-ordered member of that cycle loses
// its parent link and becomes a root.
func breakCycles(ids []uuid.UUID, nodes map[uuid.UUID]*model.HierarchicalSection, parent map[uuid.UUID]uuid.UUID) []Anomaly {
	const (
		unvisited = iota
		onPath
		done
	)

	var anomalies []Anomaly
	state := make(map[uuid.UUID]int, len(ids))

	for _, start := range ids {
		var path []uuid.UUID
		cur := start
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == onPath {
				cycle := path[indexOf(path, cur):]
				victim := cycle[0]
				for _, id := range cycle[1:] {
					if lessSection(nodes[id].Section, nodes[victim].Section) {
						victim = id
					}
				}
				anomalies = append(anomalies, Anomaly{Kind: AnomalyCycle, SectionID: victim, ParentID: parent[victim]})
				delete(parent, victim)
				break
			}
			state[cur] = onPath
			path = append(path, cur)
			p, ok := parent[cur]
			if !ok {
				break
			}
			cur = p
		}
		for _, id := range path {
			state[id] = done
		}
	}
	return anomalies
}

// Flatten returns the tree in depth-first order: each section is followed by
// its children, recursively, in ascending SectionNumber order. Siblings are
// re-sorted here so the result does not depend on Build having sorted them.
func Flatten(roots []*model.HierarchicalSection) []*model.HierarchicalSection {
	var out []*model.HierarchicalSection
	seen := make(map[uuid.UUID]bool)

	var walk func(level []*model.HierarchicalSection)
	walk = func(level []*model.HierarchicalSection) {
		sorted := make([]*model.HierarchicalSection, len(level))
		copy(sorted, level)
		sort.SliceStable(sorted, func(i, j int) bool {
			return lessSection(sorted[i].Section, sorted[j].Section)
		})
		for _, n := range sorted {
			if n == nil || seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}

func sortSiblings(level []*model.HierarchicalSection) {
	sort.SliceStable(level, func(i, j int) bool {
		return lessSection(level[i].Section, level[j].Section)
	})
	for _, n := range level {
		sortSiblings(n.Children)
	}
}

func number(level []*model.HierarchicalSection, prefix string) {
	for i, n := range level {
		n.DisplayNumber = prefix + strconv.Itoa(i+1)
		number(n.Children, n.DisplayNumber+".")
	}
}

func lessSection(a, b model.Section) bool {
	if a.SectionNumber != b.SectionNumber {
		return a.SectionNumber < b.SectionNumber
	}
	return a.ID.String() < b.ID.String()
}

func indexOf(path []uuid.UUID, id uuid.UUID) int {
	for i, p := range path {
		if p == id {
			return i
		}
	}
	return 0
}
