// Package element defines the core domain types of the crafting graph:
// elements, unordered ingredient pairs, and crafting paths.
package element

import "strings"

// Nothing is the result name the game returns for an invalid combination.
// It is recorded as a recipe outcome but never stored as an element.
const Nothing = "Nothing"

// Element is a single craftable item.
type Element struct {
	Text       string `json:"text"`
	Emoji      string `json:"emoji"`
	Discovered bool   `json:"discovered"` // true if we were the first to ever craft it
}

// Roots returns the four starting elements every game begins with.
func Roots() []Element {
	return []Element{
		{Text: "Water", Emoji: "\U0001F4A7"},
		{Text: "Fire", Emoji: "\U0001F525"},
		{Text: "Wind", Emoji: "\U0001F32C"},
		{Text: "Earth", Emoji: "\U0001F30D"},
	}
}

// IsRoot reports whether name is one of the four starting elements.
func IsRoot(name string) bool {
	switch name {
	case "Water", "Fire", "Wind", "Earth":
		return true
	}
	return false
}

// Pair is an unordered combination of two element names. An element may be
// combined with itself. The zero value is not valid; use NewPair.
type Pair struct {
	a, b string // invariant: a <= b
}

// NewPair canonicalizes the two ingredient names into an unordered pair.
func NewPair(first, second string) Pair {
	if second < first {
		first, second = second, first
	}
	return Pair{a: first, b: second}
}

// First returns the lexicographically smaller ingredient.
func (p Pair) First() string { return p.a }

// Second returns the lexicographically larger ingredient.
func (p Pair) Second() string { return p.b }

// Key returns a stable string form usable as a map key. The NUL separator
// cannot occur in element names, so distinct pairs never collide.
func (p Pair) Key() string { return p.a + "\x00" + p.b }

// String renders the pair for logs and findings.
func (p Pair) String() string { return p.a + " + " + p.b }

// Contains reports whether name is one of the two ingredients.
func (p Pair) Contains(name string) bool { return p.a == name || p.b == name }

// Recipe is a persisted combination and its outcome.
type Recipe struct {
	Ingredients Pair
	Result      string
}

// Path is the crafting path of an element: the set of every element that has
// to exist to reach it from the roots, including the element itself, plus the
// two immediate ancestors it was crafted from. Root elements have a nil
// Ancestors and an empty set.
type Path struct {
	Ancestors *[2]string
	Elements  map[string]struct{}
}

// Depth is the number of elements on the path. Roots have depth 0.
func (p Path) Depth() int { return len(p.Elements) }

// NewPath builds the path produced by crafting result out of first and second,
// given their paths: the union of both ingredient paths plus the result.
func NewPath(first, second string, firstPath, secondPath Path, result string) Path {
	merged := make(map[string]struct{}, len(firstPath.Elements)+len(secondPath.Elements)+1)
	for el := range firstPath.Elements {
		merged[el] = struct{}{}
	}
	for el := range secondPath.Elements {
		merged[el] = struct{}{}
	}
	merged[result] = struct{}{}
	anc := [2]string{first, second}
	return Path{Ancestors: &anc, Elements: merged}
}

// Overlap counts the elements two paths share.
func Overlap(a, b Path) int {
	small, large := a.Elements, b.Elements
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for el := range small {
		if _, ok := large[el]; ok {
			n++
		}
	}
	return n
}

// PathList returns the path's elements as a slice, for serialization.
func (p Path) PathList() []string {
	out := make([]string, 0, len(p.Elements))
	for el := range p.Elements {
		out = append(out, el)
	}
	return out
}

// PathFromList rebuilds a Path from serialized form.
func PathFromList(ancestors *[2]string, elements []string) Path {
	set := make(map[string]struct{}, len(elements))
	for _, el := range elements {
		set[strings.TrimSpace(el)] = struct{}{}
	}
	return Path{Ancestors: ancestors, Elements: set}
}
