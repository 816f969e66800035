package crawler

import (
	"context"

	"craftbot/internal/element"
	"craftbot/internal/logging"
	"craftbot/internal/repository"
)

// Exhaustive walks every combination of known elements in insertion order:
// for each element i, it pairs it with every element j <= i before moving
// on. Elements crafted during the run extend the walk.
//
// Resumption is derived from the recipe record, not a persisted position: a
// saved dispense cursor would hide pairs that were abandoned below it, after
// repeated server errors or because they were in flight at shutdown. Prepare
// fast-forwards over the recorded prefix and Next skips recorded pairs above
// it, so such a pair is served again by a later run.
type Exhaustive struct {
	i, j int // next pair to consider: (order[i], order[j]), j <= i
}

// NewExhaustive creates the exhaustive strategy.
func NewExhaustive() *Exhaustive {
	return &Exhaustive{}
}

func (e *Exhaustive) Name() string { return "exhaustive" }

// Prepare moves the cursor past the pairs the repository already holds.
func (e *Exhaustive) Prepare(ctx context.Context, s *State) error {
	for e.i < len(s.order) && s.Tried(element.NewPair(s.order[e.i], s.order[e.j])) {
		e.advance()
	}
	logging.Crawler("exhaustive crawl starts at (%d, %d) of %d elements", e.i, e.j, len(s.order))
	return nil
}

func (e *Exhaustive) Next(ctx context.Context, s *State) (element.Pair, bool, error) {
	for {
		if e.i >= len(s.order) {
			// every combination of the current pool has been walked
			return element.Pair{}, false, nil
		}
		pair := element.NewPair(s.order[e.i], s.order[e.j])
		e.advance()
		if !s.Tried(pair) {
			return pair, true, nil
		}
	}
}

// advance moves the cursor to the next (i, j) slot: j runs 0..i, then i grows.
func (e *Exhaustive) advance() {
	if e.j == e.i {
		e.i++
		e.j = 0
	} else {
		e.j++
	}
}

func (e *Exhaustive) Checkpoint(repo repository.Repository) error { return nil }
