// Package content provides the category lists a round is played with.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/wordparty/go/internal/models"
)

var ErrPoolExhausted = errors.New("not enough categories in pool")

//go:embed lists.yaml
var builtin []byte

// CategoryList is a curated set of categories for one round.
type CategoryList struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Categories []string `yaml:"categories" json:"categories"`
}

// Validate checks that the list has an id and exactly one round's worth of
// distinct, non-empty categories.
func (l CategoryList) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return errors.New("category list has no id")
	}
	if len(l.Categories) != models.CategoriesPerRound {
		return fmt.Errorf("category list %s has %d categories, want %d", l.ID, len(l.Categories), models.CategoriesPerRound)
	}
	seen := make(map[string]struct{}, len(l.Categories))
	for _, c := range l.Categories {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			return fmt.Errorf("category list %s has an empty category", l.ID)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("category list %s repeats %q", l.ID, c)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Library is the set of curated lists plus the word pool generated lists
// are drawn from.
type Library struct {
	Lists []CategoryList `yaml:"lists"`
	Pool  []string       `yaml:"pool"`
}

// Builtin returns the embedded library.
func Builtin() (*Library, error) {
	return parse(builtin, "builtin")
}

// Load returns the embedded library extended with the lists and pool words
// in path. An empty path loads only the embedded library.
func Load(path string) (*Library, error) {
	lib, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return lib, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	extra, err := parse(data, path)
	if err != nil {
		return nil, err
	}
	lib.merge(extra)
	return lib, nil
}

func parse(data []byte, source string) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse %s categories: %w", source, err)
	}
	for _, l := range lib.Lists {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
	}
	return &lib, nil
}

func (l *Library) merge(other *Library) {
	ids := make(map[string]int, len(l.Lists))
	for i, list := range l.Lists {
		ids[list.ID] = i
	}
	for _, list := range other.Lists {
		if i, ok := ids[list.ID]; ok {
			l.Lists[i] = list
			continue
		}
		ids[list.ID] = len(l.Lists)
		l.Lists = append(l.Lists, list)
	}

	words := make(map[string]struct{}, len(l.Pool))
	for _, w := range l.Pool {
		words[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range other.Pool {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, ok := words[strings.ToLower(w)]; ok {
			continue
		}
		words[strings.ToLower(w)] = struct{}{}
		l.Pool = append(l.Pool, w)
	}
}

// List looks up a curated list by id.
func (l *Library) List(id string) (CategoryList, bool) {
	for _, list := range l.Lists {
		if list.ID == id {
			return list, true
		}
	}
	return CategoryList{}, false
}

// Generator samples categories from a fixed word pool.
type Generator struct {
	pool []string
	rng  *rand.Rand
}

// NewGenerator creates a generator over pool. A nil rng is seeded from the
// current time.
func NewGenerator(pool []string, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{pool: append([]string(nil), pool...), rng: rng}
}

// Sample draws n distinct categories without replacement.
func (g *Generator) Sample(n int) ([]string, error) {
	if n < 0 || n > len(g.pool) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrPoolExhausted, n, len(g.pool))
	}
	idx := g.rng.Perm(len(g.pool))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = g.pool[j]
	}
	return out, nil
}

// Deck hands out a category list for each round. It cycles through the
// curated lists in a shuffled order and falls back to generated lists once
// every curated list has been used. It is safe for concurrent use.
type Deck struct {
	mu    sync.Mutex
	lib   *Library
	gen   *Generator
	rng   *rand.Rand
	order []int
}

// NewDeck creates a deck over lib.
func NewDeck(lib *Library, rng *rand.Rand) *Deck {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Deck{
		lib:   lib,
		gen:   NewGenerator(lib.Pool, rng),
		rng:   rng,
		order: rng.Perm(len(lib.Lists)),
	}
}

// Categories returns the next round's categories.
func (d *Deck) Categories() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.order) > 0 {
		list := d.lib.Lists[d.order[0]]
		d.order = d.order[1:]
		return append([]string(nil), list.Categories...), nil
	}
	return d.gen.Sample(models.CategoriesPerRound)
}

// Reset reshuffles the curated lists for a new match.
func (d *Deck) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = d.rng.Perm(len(d.lib.Lists))
}
