// Package paths derives crafting paths from the recipe record: for every
// reachable element, the cheapest known set of elements that has to be
// crafted to reach it from the four roots.
package paths

import (
	"craftbot/internal/element"
	"craftbot/internal/logging"
)

// Compute derives the shallowest known path for every element reachable
// through the given recipes. It iterates to a fixpoint: a recipe can only
// improve a path once its ingredients' paths have settled, and an improved
// path can in turn improve its dependents.
//
// Recipes producing Nothing are skipped. Elements whose every recipe depends
// on unreachable ingredients get no path.
func Compute(recipes []element.Recipe) map[string]element.Path {
	timer := logging.StartTimer(logging.CategoryPaths, "Compute")
	defer timer.Stop()

	paths := make(map[string]element.Path)
	for _, root := range element.Roots() {
		paths[root.Text] = element.Path{Elements: map[string]struct{}{}}
	}

	for round := 1; ; round++ {
		changed := false
		for _, r := range recipes {
			if r.Result == element.Nothing {
				continue
			}
			first, second := r.Ingredients.First(), r.Ingredients.Second()
			firstPath, ok := paths[first]
			if !ok {
				continue
			}
			secondPath, ok := paths[second]
			if !ok {
				continue
			}

			candidate := element.NewPath(first, second, firstPath, secondPath, r.Result)
			if current, ok := paths[r.Result]; !ok || candidate.Depth() < current.Depth() {
				paths[r.Result] = candidate
				changed = true
			}
		}
		logging.PathsDebug("round %d done, %d paths", round, len(paths))
		if !changed {
			break
		}
	}

	logging.Paths("computed %d paths from %d recipes", len(paths), len(recipes))
	return paths
}
