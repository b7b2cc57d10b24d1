package tracker

import (
	"slices"
	"strings"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

// Move is a tracked document that reappeared under a new path with
// identical content.
type Move struct {
	From string
	To   string
}

// Plan compares the tracked fingerprints with the documents currently in the
// vault. A document at an untracked path whose hash matches a vanished path
// is reported as a move; the remaining vanished paths are pure deletions.
// Pairing is deterministic: both sides are matched in path order.
func Plan(tracked map[string]string, docs []common.Document) ([]Move, []string) {
	present := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		present[d.Path] = struct{}{}
	}

	vanishedByHash := make(map[string][]string)
	var vanished []string
	for path, hash := range tracked {
		if _, ok := present[path]; !ok {
			vanished = append(vanished, path)
			vanishedByHash[hash] = append(vanishedByHash[hash], path)
		}
	}
	for _, paths := range vanishedByHash {
		slices.Sort(paths)
	}

	fresh := make([]common.Document, 0)
	for _, d := range docs {
		if _, ok := tracked[d.Path]; !ok {
			fresh = append(fresh, d)
		}
	}
	slices.SortFunc(fresh, func(a, b common.Document) int {
		return strings.Compare(a.Path, b.Path)
	})

	var moves []Move
	moved := make(map[string]struct{})
	for _, d := range fresh {
		candidates := vanishedByHash[d.ContentHash]
		if len(candidates) == 0 {
			continue
		}
		moves = append(moves, Move{From: candidates[0], To: d.Path})
		moved[candidates[0]] = struct{}{}
		vanishedByHash[d.ContentHash] = candidates[1:]
	}

	deleted := make([]string, 0, len(vanished))
	for _, path := range vanished {
		if _, ok := moved[path]; !ok {
			deleted = append(deleted, path)
		}
	}
	slices.Sort(deleted)
	return moves, deleted
}
