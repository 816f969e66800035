package recipe

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"craftbot/internal/element"
	"craftbot/internal/paths"
)

func buildPaths(t *testing.T, recipes ...element.Recipe) map[string]element.Path {
	t.Helper()
	return paths.Compute(recipes)
}

func rec(first, second, result string) element.Recipe {
	return element.Recipe{Ingredients: element.NewPair(first, second), Result: result}
}

func TestFullRecipeChain(t *testing.T) {
	p := buildPaths(t,
		rec("Water", "Fire", "Steam"),
		rec("Steam", "Earth", "Mud"),
	)

	steps, err := FullRecipe("Mud", p)
	if err != nil {
		t.Fatalf("FullRecipe: %v", err)
	}
	want := []Step{
		{First: "Fire", Second: "Water", Result: "Steam"},
		{First: "Earth", Second: "Steam", Result: "Mud"},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestFullRecipeSharedSubtreeCraftedOnce(t *testing.T) {
	p := buildPaths(t,
		rec("Water", "Fire", "Steam"),
		rec("Steam", "Steam", "Geyser"),
	)

	steps, err := FullRecipe("Geyser", p)
	if err != nil {
		t.Fatalf("FullRecipe: %v", err)
	}
	// Steam appears as both ingredients of Geyser but is crafted exactly once.
	want := []Step{
		{First: "Fire", Second: "Water", Result: "Steam"},
		{First: "Steam", Second: "Steam", Result: "Geyser"},
	}
	if diff := cmp.Diff(want, steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
}

func TestFullRecipeRoot(t *testing.T) {
	p := buildPaths(t)
	steps, err := FullRecipe("Water", p)
	if err != nil {
		t.Fatalf("FullRecipe: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("root needs no steps, got %v", steps)
	}
}

func TestFullRecipeUnknown(t *testing.T) {
	_, err := FullRecipe("Dragon", buildPaths(t))
	var unknown *ErrUnknownElement
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want ErrUnknownElement", err)
	}
	if unknown.Name != "Dragon" {
		t.Errorf("Name = %q", unknown.Name)
	}
}

func TestResolve(t *testing.T) {
	p := map[string]element.Path{}
	for _, name := range []string{"Jesus Shark", "Devil’s Lake", "Farmer's Wife"} {
		p[name] = element.Path{}
	}

	cases := map[string]string{
		"Jesus Shark":   "Jesus Shark",
		"jesus shark":   "Jesus Shark",
		"Devil's Lake":  "Devil’s Lake",
		"devil's lake":  "Devil’s Lake",
		"Farmer’s Wife": "Farmer's Wife",
	}
	for input, want := range cases {
		got, ok := Resolve(input, p)
		if !ok || got != want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", input, got, ok, want)
		}
	}

	if _, ok := Resolve("nonexistent", p); ok {
		t.Error("Resolve matched a name that is not there")
	}
}

func TestVariationsVerbatimFirst(t *testing.T) {
	vars := Variations("devil's lake")
	if vars[0] != "devil's lake" {
		t.Errorf("first variation = %q, want the verbatim input", vars[0])
	}
	found := false
	for _, v := range vars {
		if v == "Devil’s Lake" {
			found = true
		}
	}
	if !found {
		t.Errorf("variations %v missing capitalized typographic form", vars)
	}
}
