package csv

import (
	stdcsv "encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

var (
	legacyHeader = []string{
		"source_category", "source_label", "relationship", "target_category", "target_label",
		"source_file", "chunk_index", "extracted_at",
	}
	bucketHeader = []string{
		"source_id", "target_id", "relationship", "first_seen", "last_seen", "source_document",
	}
	entityHeader = []string{"id", "label", "first_seen", "last_seen"}
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// writeAtomic writes records to path through a temp file in the same
// directory followed by a rename.
func writeAtomic(path string, header []string, records [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := stdcsv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// readRecords returns the rows of path without its header. A missing file
// yields no rows.
func readRecords(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := stdcsv.NewReader(f)
	r.FieldsPerRecord = len(header)
	head, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i := range header {
		if head[i] != header[i] {
			return nil, fmt.Errorf("%s: unexpected column %q, want %q", path, head[i], header[i])
		}
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func encodeLegacy(rows []common.ExtractedRelationship) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			string(r.SourceCategory), r.SourceLabel, r.Verb, string(r.TargetCategory), r.TargetLabel,
			r.SourceDocumentPath, strconv.Itoa(r.ChunkIndex), formatTime(r.ExtractedAt),
		})
	}
	return out
}

func decodeLegacy(records [][]string) ([]common.ExtractedRelationship, error) {
	out := make([]common.ExtractedRelationship, 0, len(records))
	for _, rec := range records {
		idx, err := strconv.Atoi(rec[6])
		if err != nil {
			return nil, fmt.Errorf("chunk_index %q: %w", rec[6], err)
		}
		at, err := parseTime(rec[7])
		if err != nil {
			return nil, fmt.Errorf("extracted_at %q: %w", rec[7], err)
		}
		out = append(out, common.ExtractedRelationship{
			SourceCategory:     common.Category(rec[0]),
			SourceLabel:        rec[1],
			Verb:               rec[2],
			TargetCategory:     common.Category(rec[3]),
			TargetLabel:        rec[4],
			SourceDocumentPath: rec[5],
			ChunkIndex:         idx,
			ExtractedAt:        at,
		})
	}
	return out, nil
}

func encodeBucket(rows []common.CanonicalRelationship) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.SourceID, r.TargetID, r.Verb, formatTime(r.FirstSeen), formatTime(r.LastSeen), r.Origin,
		})
	}
	return out
}

func decodeBucket(bucket common.Bucket, records [][]string) ([]common.CanonicalRelationship, error) {
	out := make([]common.CanonicalRelationship, 0, len(records))
	for _, rec := range records {
		first, err := parseTime(rec[3])
		if err != nil {
			return nil, fmt.Errorf("first_seen %q: %w", rec[3], err)
		}
		last, err := parseTime(rec[4])
		if err != nil {
			return nil, fmt.Errorf("last_seen %q: %w", rec[4], err)
		}
		out = append(out, common.CanonicalRelationship{
			Bucket:    bucket,
			SourceID:  rec[0],
			TargetID:  rec[1],
			Verb:      rec[2],
			FirstSeen: first,
			LastSeen:  last,
			Origin:    rec[5],
		})
	}
	return out, nil
}

func encodeEntities(rows []common.Entity) [][]string {
	out := make([][]string, 0, len(rows))
	for _, e := range rows {
		out = append(out, []string{e.ID, e.Label, formatTime(e.FirstSeen), formatTime(e.LastSeen)})
	}
	return out
}

func decodeEntities(category common.Category, records [][]string) ([]common.Entity, error) {
	out := make([]common.Entity, 0, len(records))
	for _, rec := range records {
		first, err := parseTime(rec[2])
		if err != nil {
			return nil, fmt.Errorf("first_seen %q: %w", rec[2], err)
		}
		last, err := parseTime(rec[3])
		if err != nil {
			return nil, fmt.Errorf("last_seen %q: %w", rec[3], err)
		}
		out = append(out, common.Entity{ID: rec[0], Label: rec[1], Category: category, FirstSeen: first, LastSeen: last})
	}
	return out, nil
}
