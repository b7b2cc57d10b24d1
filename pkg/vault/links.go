package vault

import (
	"path"
	"regexp"
	"strings"
)

var wikiLinkRe = regexp.MustCompile(`\[\[([^|\]\n]+)(?:\|[^\]\n]*)?\]\]`)

// ExtractLinks returns the distinct wiki link targets of a document in order
// of first appearance. Aliases and heading or block anchors are removed, so
// `[[Bob#Work|boss]]` yields "Bob".
func ExtractLinks(content string) []string {
	matches := wikiLinkRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		if i := strings.IndexAny(target, "#^"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// LinkIndex resolves link targets to document paths.
type LinkIndex struct {
	byPath  map[string]string
	byLabel map[string]string
}

// NewLinkIndex indexes documents by vault path without extension and by
// label. When two documents share a label the lexicographically first path
// wins, so resolution does not depend on scan order.
func NewLinkIndex(paths []string) *LinkIndex {
	idx := &LinkIndex{
		byPath:  make(map[string]string, len(paths)),
		byLabel: make(map[string]string, len(paths)),
	}
	for _, p := range paths {
		idx.byPath[strings.TrimSuffix(p, path.Ext(p))] = p
		idx.byPath[p] = p

		label := Label(p)
		if cur, ok := idx.byLabel[label]; !ok || p < cur {
			idx.byLabel[label] = p
		}
	}
	return idx
}

// Resolve returns the document path a link target points at.
func (idx *LinkIndex) Resolve(target string) (string, bool) {
	target = strings.TrimPrefix(strings.TrimSpace(target), "/")
	if p, ok := idx.byPath[target]; ok {
		return p, true
	}
	if p, ok := idx.byLabel[target]; ok {
		return p, true
	}
	return "", false
}

// Label returns the file stem of a vault path.
func Label(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
