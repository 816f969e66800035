package element

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairCanonicalOrder(t *testing.T) {
	p := NewPair("Water", "Fire")
	q := NewPair("Fire", "Water")

	assert.Equal(t, p, q)
	assert.Equal(t, "Fire", p.First())
	assert.Equal(t, "Water", p.Second())
	assert.Equal(t, p.Key(), q.Key())
}

func TestPairSelfCombination(t *testing.T) {
	p := NewPair("Water", "Water")
	assert.Equal(t, "Water", p.First())
	assert.Equal(t, "Water", p.Second())
	assert.True(t, p.Contains("Water"))
	assert.False(t, p.Contains("Fire"))
}

func TestPairKeyDistinct(t *testing.T) {
	// Concatenation without a separator would collide here.
	a := NewPair("ab", "c")
	b := NewPair("a", "bc")
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestNewPathDepth(t *testing.T) {
	water := Path{Elements: map[string]struct{}{}}
	fire := Path{Elements: map[string]struct{}{}}

	steam := NewPath("Water", "Fire", water, fire, "Steam")
	require.NotNil(t, steam.Ancestors)
	assert.Equal(t, [2]string{"Water", "Fire"}, *steam.Ancestors)
	assert.Equal(t, 1, steam.Depth())

	// Overlapping ingredient paths are not double counted.
	engine := NewPath("Steam", "Steam", steam, steam, "Engine")
	assert.Equal(t, 2, engine.Depth())
}

func TestOverlap(t *testing.T) {
	a := PathFromList(nil, []string{"Steam", "Mud"})
	b := PathFromList(nil, []string{"Steam", "Lava"})
	assert.Equal(t, 1, Overlap(a, b))
	assert.Equal(t, 1, Overlap(b, a))
	assert.Equal(t, 0, Overlap(a, Path{Elements: map[string]struct{}{}}))
}

func TestRoots(t *testing.T) {
	roots := Roots()
	require.Len(t, roots, 4)
	for _, r := range roots {
		assert.True(t, IsRoot(r.Text))
		assert.False(t, r.Discovered)
	}
	assert.False(t, IsRoot("Steam"))
	assert.False(t, IsRoot(Nothing))
}
