package content

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wordparty/go/internal/models"
)

func TestBuiltinListsAreValid(t *testing.T) {
	lib, err := Builtin()
	require.NoError(t, err)
	require.NotEmpty(t, lib.Lists)
	assert.GreaterOrEqual(t, len(lib.Pool), models.CategoriesPerRound)

	for _, l := range lib.Lists {
		assert.NoError(t, l.Validate(), l.ID)
	}
}

func TestSampleWithoutReplacement(t *testing.T) {
	pool := []string{"a", "b", "c", "d", "e"}
	gen := NewGenerator(pool, rand.New(rand.NewSource(1)))

	got, err := gen.Sample(5)
	require.NoError(t, err)
	assert.ElementsMatch(t, pool, got)

	_, err = gen.Sample(6)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestSampleIsSeedDeterministic(t *testing.T) {
	lib, err := Builtin()
	require.NoError(t, err)

	a, err := NewGenerator(lib.Pool, rand.New(rand.NewSource(42))).Sample(models.CategoriesPerRound)
	require.NoError(t, err)
	b, err := NewGenerator(lib.Pool, rand.New(rand.NewSource(42))).Sample(models.CategoriesPerRound)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDeckUsesEveryCuratedListBeforeGenerating(t *testing.T) {
	lib, err := Builtin()
	require.NoError(t, err)
	deck := NewDeck(lib, rand.New(rand.NewSource(7)))

	seen := map[string]bool{}
	for range lib.Lists {
		cats, err := deck.Categories()
		require.NoError(t, err)
		require.Len(t, cats, models.CategoriesPerRound)
		seen[cats[0]] = true
	}
	assert.Len(t, seen, len(lib.Lists))

	generated, err := deck.Categories()
	require.NoError(t, err)
	assert.Len(t, generated, models.CategoriesPerRound)

	deck.Reset()
	cats, err := deck.Categories()
	require.NoError(t, err)
	assert.True(t, seen[cats[0]])
}

func TestLoadMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	extra := `
lists:
  - id: custom
    name: Custom
    categories: [a1, a2, a3, a4, a5, a6, a7, a8, a9, a10, a11, a12]
pool: [Animals, Spaceships]
`
	require.NoError(t, os.WriteFile(path, []byte(extra), 0o600))

	base, err := Builtin()
	require.NoError(t, err)
	lib, err := Load(path)
	require.NoError(t, err)

	l, ok := lib.List("custom")
	require.True(t, ok)
	assert.Equal(t, "Custom", l.Name)
	assert.Len(t, lib.Lists, len(base.Lists)+1)
	assert.Len(t, lib.Pool, len(base.Pool)+1)
	assert.Contains(t, lib.Pool, "Spaceships")
}

func TestLoadRejectsShortList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lists:\n  - id: short\n    categories: [a, b]\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	l := CategoryList{ID: "x", Categories: []string{"A", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "a "}}
	assert.Error(t, l.Validate())
}
