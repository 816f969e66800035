package crawler

import (
	"sort"
	"sync"

	"craftbot/internal/element"
	"craftbot/internal/repository"
)

// State is the crawler's in-memory view of the repository, shared by all
// workers. The mutex guards everything; strategies are called with it held.
type State struct {
	mu sync.Mutex

	elements map[string]element.Element
	order    []string // element names in insertion order

	// recipes is tri-state: a pair absent from the map has never been tried,
	// pendingResult marks an in-flight request, anything else is the recorded
	// outcome (possibly Nothing).
	recipes map[element.Pair]string

	paths map[string]element.Path

	// byDepth lists the names of elements that have a path, ordered by depth
	// ascending. The depth-prioritized samplers draw from the front.
	byDepth []string
}

const pendingResult = "\x00pending"

// loadState populates a State from the repository.
func loadState(repo repository.Repository) (*State, error) {
	elements, err := repo.LoadElements()
	if err != nil {
		return nil, err
	}
	recipes, err := repo.LoadRecipes()
	if err != nil {
		return nil, err
	}
	paths, err := repo.LoadPaths()
	if err != nil {
		return nil, err
	}

	// roots have empty paths by definition; seed them so path tracking works
	// on a fresh repository before any full computation ran
	for _, root := range element.Roots() {
		if _, ok := paths[root.Text]; !ok {
			paths[root.Text] = element.Path{Elements: map[string]struct{}{}}
		}
	}

	s := &State{
		elements: make(map[string]element.Element, len(elements)),
		order:    make([]string, 0, len(elements)),
		recipes:  make(map[element.Pair]string, len(recipes)),
		paths:    paths,
	}
	for _, el := range elements {
		s.elements[el.Text] = el
		s.order = append(s.order, el.Text)
	}
	for _, r := range recipes {
		s.recipes[r.Ingredients] = r.Result
	}

	s.byDepth = make([]string, 0, len(paths))
	for name := range paths {
		s.byDepth = append(s.byDepth, name)
	}
	sort.Slice(s.byDepth, func(i, j int) bool {
		di, dj := paths[s.byDepth[i]].Depth(), paths[s.byDepth[j]].Depth()
		if di != dj {
			return di < dj
		}
		return s.byDepth[i] < s.byDepth[j]
	})
	return s, nil
}

// Known reports whether the element is already in the pool.
func (s *State) Known(name string) bool {
	_, ok := s.elements[name]
	return ok
}

// Tried reports whether the pair has been requested (or is in flight).
func (s *State) Tried(p element.Pair) bool {
	_, ok := s.recipes[p]
	return ok
}

// markPending reserves a pair so no other worker picks it concurrently.
func (s *State) markPending(p element.Pair) { s.recipes[p] = pendingResult }

// unmark releases a pending pair that could not be completed.
func (s *State) unmark(p element.Pair) {
	if s.recipes[p] == pendingResult {
		delete(s.recipes, p)
	}
}

// addElement records a newly crafted element.
func (s *State) addElement(el element.Element) {
	s.elements[el.Text] = el
	s.order = append(s.order, el.Text)
}

// setPath records a path for name, keeping byDepth ordered. Replacing an
// existing, deeper path leaves the stale byDepth slot in place; the list is a
// sampling heuristic, not an index, and the slot still names the element.
func (s *State) setPath(name string, p element.Path) {
	_, existed := s.paths[name]
	s.paths[name] = p
	if existed {
		return
	}
	depth := p.Depth()
	i := sort.Search(len(s.byDepth), func(i int) bool {
		return s.paths[s.byDepth[i]].Depth() > depth
	})
	s.byDepth = append(s.byDepth, "")
	copy(s.byDepth[i+1:], s.byDepth[i:])
	s.byDepth[i] = name
}

// updatePaths folds a new recipe into the path map: if the recipe yields a
// new or shallower path for its result, the path is replaced and dependents
// are improved transitively. It reports the result's previous depth (-1 when
// it had no path) and whether anything changed.
func (s *State) updatePaths(pair element.Pair, result string) (prevDepth int, changed bool) {
	prevDepth = -1
	if cur, ok := s.paths[result]; ok {
		prevDepth = cur.Depth()
	}

	firstPath, ok := s.paths[pair.First()]
	if !ok {
		return prevDepth, false
	}
	secondPath, ok := s.paths[pair.Second()]
	if !ok {
		return prevDepth, false
	}

	candidate := element.NewPath(pair.First(), pair.Second(), firstPath, secondPath, result)
	if prevDepth >= 0 && candidate.Depth() >= prevDepth {
		return prevDepth, false
	}
	s.setPath(result, candidate)
	s.propagate(result)
	return prevDepth, true
}

// propagate re-derives the paths of elements whose recorded ancestors include
// an improved element, iterating until the improvement has rippled through.
func (s *State) propagate(improved string) {
	dirty := map[string]bool{improved: true}
	for len(dirty) > 0 {
		next := make(map[string]bool)
		for name, p := range s.paths {
			if p.Ancestors == nil {
				continue
			}
			first, second := p.Ancestors[0], p.Ancestors[1]
			if !dirty[first] && !dirty[second] {
				continue
			}
			candidate := element.NewPath(first, second, s.paths[first], s.paths[second], name)
			if candidate.Depth() < p.Depth() {
				s.paths[name] = candidate
				next[name] = true
			}
		}
		dirty = next
	}
}
