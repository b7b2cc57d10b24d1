// Package normalize turns raw extracted relationships into canonical bucket
// rows. The same rules are used for incremental merges and for recomputing
// the buckets from the per-document tables, so both always agree.
package normalize

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

// Category maps a model supplied category name onto an accepted category.
func Category(s string) (common.Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person", "people", "persons":
		return common.CategoryPerson, true
	case "company", "companies", "organization", "organisation":
		return common.CategoryCompany, true
	}
	return "", false
}

// Verb lowercases a relationship verb and joins its words with underscores,
// so "Works at" and "works-at" both become "works_at".
func Verb(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
			continue
		}
		b.WriteRune(r)
		underscore = false
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Validate cleans a raw relationship and reports whether it is acceptable.
// Rows with an unknown category, an empty label or an empty verb are rejected.
func Validate(r common.ExtractedRelationship) (common.ExtractedRelationship, bool) {
	sc, ok := Category(string(r.SourceCategory))
	if !ok {
		return r, false
	}
	tc, ok := Category(string(r.TargetCategory))
	if !ok {
		return r, false
	}
	r.SourceCategory = sc
	r.TargetCategory = tc
	r.SourceLabel = strings.TrimSpace(r.SourceLabel)
	r.TargetLabel = strings.TrimSpace(r.TargetLabel)
	r.Verb = Verb(r.Verb)
	if r.SourceLabel == "" || r.TargetLabel == "" || r.Verb == "" {
		return r, false
	}
	return r, true
}

// Canonicalize applies direction normalization and canonical pair ordering.
// Company to Person facts are flipped to Person to Company with the verb
// kept. Symmetric pairs are ordered so the smaller id is the source. Self
// references yield false.
func Canonicalize(r common.ExtractedRelationship) (common.CanonicalRelationship, bool) {
	src, tgt := r.SourceLabel, r.TargetLabel
	sc, tc := r.SourceCategory, r.TargetCategory

	if sc == common.CategoryCompany && tc == common.CategoryPerson {
		src, tgt = tgt, src
		sc, tc = tc, sc
	}

	var bucket common.Bucket
	switch {
	case sc == common.CategoryPerson && tc == common.CategoryPerson:
		bucket = common.BucketPersonToPerson
	case sc == common.CategoryPerson && tc == common.CategoryCompany:
		bucket = common.BucketPersonToCompany
	case sc == common.CategoryCompany && tc == common.CategoryCompany:
		bucket = common.BucketCompanyToCompany
	default:
		return common.CanonicalRelationship{}, false
	}

	if bucket.Symmetric() {
		if src == tgt {
			return common.CanonicalRelationship{}, false
		}
		if tgt < src {
			src, tgt = tgt, src
		}
	}

	at := r.ExtractedAt.UTC()
	return common.CanonicalRelationship{
		Bucket:    bucket,
		SourceID:  src,
		TargetID:  tgt,
		Verb:      r.Verb,
		FirstSeen: at,
		LastSeen:  at,
		Origin:    r.SourceDocumentPath,
	}, true
}

// Table is the in-memory form of one relation bucket.
type Table map[common.PairKey]common.CanonicalRelationship

// Merge folds row into t. An existing pair keeps its first sighting and
// takes the verb of the newest observation; ties on time go to the greater
// origin path, then to the later call.
func (t Table) Merge(row common.CanonicalRelationship) {
	key := row.Key()
	cur, ok := t[key]
	if !ok {
		t[key] = row
		return
	}

	if row.FirstSeen.Before(cur.FirstSeen) {
		cur.FirstSeen = row.FirstSeen
	}
	switch {
	case row.LastSeen.After(cur.LastSeen):
		cur.LastSeen = row.LastSeen
		cur.Verb = row.Verb
		cur.Origin = row.Origin
	case row.LastSeen.Equal(cur.LastSeen) && row.Origin >= cur.Origin:
		cur.Verb = row.Verb
		cur.Origin = row.Origin
	}
	t[key] = cur
}

// Rows returns the table sorted by (source, target).
func (t Table) Rows() []common.CanonicalRelationship {
	rows := make([]common.CanonicalRelationship, 0, len(t))
	for _, r := range t {
		rows = append(rows, r)
	}
	SortRows(rows)
	return rows
}

// SortRows orders rows by bucket, source and target.
func SortRows(rows []common.CanonicalRelationship) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Bucket != rows[j].Bucket {
			return bucketIndex(rows[i].Bucket) < bucketIndex(rows[j].Bucket)
		}
		if rows[i].SourceID != rows[j].SourceID {
			return rows[i].SourceID < rows[j].SourceID
		}
		return rows[i].TargetID < rows[j].TargetID
	})
}

func bucketIndex(b common.Bucket) int {
	for i, x := range common.Buckets {
		if x == b {
			return i
		}
	}
	return len(common.Buckets)
}

// Tables holds one Table per bucket.
type Tables map[common.Bucket]Table

// NewTables returns empty tables for every bucket.
func NewTables() Tables {
	t := make(Tables, len(common.Buckets))
	for _, b := range common.Buckets {
		t[b] = Table{}
	}
	return t
}

// Apply canonicalizes raw rows and merges them in order. It returns the
// number of rows that landed in a bucket.
func (t Tables) Apply(rows []common.ExtractedRelationship) int {
	n := 0
	for _, r := range rows {
		c, ok := Canonicalize(r)
		if !ok {
			continue
		}
		t[c.Bucket].Merge(c)
		n++
	}
	return n
}

// Recompute derives all buckets from the per-document tables. Documents are
// visited in path order and their rows in stored order.
func Recompute(legacy map[string][]common.ExtractedRelationship) Tables {
	paths := make([]string, 0, len(legacy))
	for p := range legacy {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	t := NewTables()
	for _, p := range paths {
		t.Apply(legacy[p])
	}
	return t
}

// Equal reports whether two table sets hold the same rows.
func (t Tables) Equal(o Tables) bool {
	for _, b := range common.Buckets {
		a, c := t[b], o[b]
		if len(a) != len(c) {
			return false
		}
		for k, row := range a {
			other, ok := c[k]
			if !ok || !sameRow(row, other) {
				return false
			}
		}
	}
	return true
}

func sameRow(a, b common.CanonicalRelationship) bool {
	return a.Verb == b.Verb &&
		a.Origin == b.Origin &&
		a.FirstSeen.Equal(b.FirstSeen) &&
		a.LastSeen.Equal(b.LastSeen)
}

// Stamp sets the extraction time of every row. Times are truncated to whole
// seconds so they survive the on-disk format unchanged.
func Stamp(rows []common.ExtractedRelationship, at time.Time) []common.ExtractedRelationship {
	at = at.UTC().Truncate(time.Second)
	out := make([]common.ExtractedRelationship, len(rows))
	for i, r := range rows {
		r.ExtractedAt = at
		out[i] = r
	}
	return out
}
