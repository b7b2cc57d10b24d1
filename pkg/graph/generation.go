package graph

import (
	"errors"
	"strings"
	"sync"
)

// ErrStaleGeneration is returned when a newer run for the same document
// started before this run reached its merge.
var ErrStaleGeneration = errors.New("superseded by a newer run")

// generations hands out a monotonically increasing generation per document
// path and a mutex that serializes purge and merge for that path.
type generations struct {
	mu    sync.Mutex
	gen   map[string]uint64
	locks map[string]*sync.Mutex
}

func newGenerations() *generations {
	return &generations{
		gen:   make(map[string]uint64),
		locks: make(map[string]*sync.Mutex),
	}
}

// Begin starts a new run for path and returns its generation.
func (g *generations) Begin(path string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen[path]++
	return g.gen[path]
}

// BeginPrefix starts a new generation for every known path below prefix.
func (g *generations) BeginPrefix(prefix string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p := range g.gen {
		if strings.HasPrefix(p, prefix) {
			g.gen[p]++
		}
	}
}

// Current reports whether gen is still the newest run for path.
func (g *generations) Current(path string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen[path] == gen
}

// Lock locks path and returns the unlock function.
func (g *generations) Lock(path string) func() {
	g.mu.Lock()
	l, ok := g.locks[path]
	if !ok {
		l = &sync.Mutex{}
		g.locks[path] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}
