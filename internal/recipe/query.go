// Package recipe answers "how do I craft X": the full ordered list of
// combination steps leading from the roots to an element.
package recipe

import (
	"fmt"
	"strings"
	"unicode"

	"craftbot/internal/element"
)

// Step is one combination in a full recipe.
type Step struct {
	First  string
	Second string
	Result string
}

func (s Step) String() string {
	return fmt.Sprintf("%s + %s -> %s", s.First, s.Second, s.Result)
}

// ErrUnknownElement is returned when no path leads to the requested element.
type ErrUnknownElement struct {
	Name string
}

func (e *ErrUnknownElement) Error() string {
	return fmt.Sprintf("no known path to %q", e.Name)
}

// FullRecipe returns the crafting steps for name in dependency order: every
// step's ingredients are either roots or results of earlier steps. Elements
// used by several steps are crafted once.
func FullRecipe(name string, paths map[string]element.Path) ([]Step, error) {
	if _, ok := paths[name]; !ok {
		return nil, &ErrUnknownElement{Name: name}
	}

	var steps []Step
	done := make(map[string]bool)

	var visit func(el string)
	visit = func(el string) {
		if done[el] {
			return
		}
		done[el] = true
		p := paths[el]
		if p.Ancestors == nil {
			// a root, nothing to craft
			return
		}
		visit(p.Ancestors[0])
		visit(p.Ancestors[1])
		steps = append(steps, Step{First: p.Ancestors[0], Second: p.Ancestors[1], Result: el})
	}
	visit(name)
	return steps, nil
}

// Resolve maps a loosely spelled element name onto one actually present in
// the path map. The game is fussy about apostrophes and capitalization, users
// are not, so a few spelling variations are tried in order.
func Resolve(name string, paths map[string]element.Path) (string, bool) {
	for _, candidate := range Variations(name) {
		if _, ok := paths[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// Variations lists spelling variations of name, the verbatim input first:
// typewriter vs typographic apostrophes, per-word capitalization, and their
// combinations. The result contains no duplicates.
func Variations(name string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	for _, base := range []string{name, capitalizeWords(name)} {
		add(base)
		add(strings.ReplaceAll(base, "'", "’"))
		add(strings.ReplaceAll(base, "’", "'"))
	}
	return out
}

// capitalizeWords upcases the first letter of every space-separated word.
func capitalizeWords(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		runes := []rune(w)
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
			words[i] = string(runes)
		}
	}
	return strings.Join(words, " ")
}
