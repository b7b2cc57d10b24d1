package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const latestKey = "latest.json"

// Snapshot is the content of latest.json.
type Snapshot struct {
	RunID     string            `json:"run_id"`
	CreatedAt time.Time         `json:"created_at"`
	Files     []string          `json:"files"`
	Stats     common.GraphStats `json:"stats"`
}

// Exporter uploads the state of every rebuild under
// <prefix>/<run id>/ and points latest.json at it.
type Exporter struct {
	client ObjectAPI
	bucket string
	prefix string
	files  []string
	keep   int
	now    func() time.Time
}

// NewExporterParams configures an Exporter.
//
// Files are local files uploaded next to the projection, for example the
// merged bucket tables and the SQLite graph. Missing files are skipped.
// Keep bounds the number of retained runs; zero keeps all of them.
type NewExporterParams struct {
	Client ObjectAPI
	Bucket string
	Prefix string
	Files  []string
	Keep   int
}

func NewExporter(params NewExporterParams) *Exporter {
	return &Exporter{
		client: params.Client,
		bucket: params.Bucket,
		prefix: strings.Trim(params.Prefix, "/"),
		files:  params.Files,
		keep:   params.Keep,
		now:    time.Now,
	}
}

func (e *Exporter) key(parts ...string) string {
	if e.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{e.prefix}, parts...)...)
}

// Export uploads one snapshot of p. It matches graph.RebuildHook.
func (e *Exporter) Export(ctx context.Context, p *common.Projection) error {
	id, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 8)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	runID := now.Format("20060102T150405Z") + "-" + id

	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	snap := Snapshot{RunID: runID, CreatedAt: now.Truncate(time.Second), Stats: statsOf(p)}

	projectionKey := e.key(runID, "projection.json")
	if err := PutFile(ctx, e.client, e.bucket, projectionKey, bytes.NewReader(raw)); err != nil {
		return err
	}
	snap.Files = append(snap.Files, projectionKey)

	for _, f := range e.files {
		body, err := os.ReadFile(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		key := e.key(runID, filepath.Base(f))
		if err := PutFile(ctx, e.client, e.bucket, key, bytes.NewReader(body)); err != nil {
			return err
		}
		snap.Files = append(snap.Files, key)
	}

	latest, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := PutFile(ctx, e.client, e.bucket, e.key(latestKey), bytes.NewReader(latest)); err != nil {
		return err
	}
	logger.Info("[Snapshot] Exported graph", "run_id", runID, "files", len(snap.Files))

	if err := e.prune(ctx, runID); err != nil {
		logger.Warn("[Snapshot] Pruning old runs failed", "err", err)
	}
	return nil
}

// Latest reads latest.json.
func (e *Exporter) Latest(ctx context.Context) (Snapshot, error) {
	raw, err := GetFile(ctx, e.client, e.bucket, e.key(latestKey))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", latestKey, err)
	}
	return snap, nil
}

// prune deletes all but the newest keep runs. Run ids sort by time.
func (e *Exporter) prune(ctx context.Context, current string) error {
	if e.keep <= 0 {
		return nil
	}
	base := e.key() + "/"
	if e.prefix == "" {
		base = ""
	}
	keys, err := ListFilesWithPrefix(ctx, e.client, e.bucket, base)
	if err != nil {
		return err
	}

	byRun := make(map[string][]string)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, base)
		run, _, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		byRun[run] = append(byRun[run], k)
	}
	runs := make([]string, 0, len(byRun))
	for r := range byRun {
		runs = append(runs, r)
	}
	slices.Sort(runs)
	if len(runs) <= e.keep {
		return nil
	}

	var stale []string
	for _, r := range runs[:len(runs)-e.keep] {
		if r == current {
			continue
		}
		stale = append(stale, byRun[r]...)
	}
	if len(stale) == 0 {
		return nil
	}
	return DeleteFiles(ctx, e.client, e.bucket, stale)
}

func statsOf(p *common.Projection) common.GraphStats {
	s := common.GraphStats{
		Documents:     len(p.Documents),
		Relationships: len(p.Relationships),
		References:    len(p.References),
		Links:         len(p.Links),
		Notes:         len(p.Notes),
	}
	for _, e := range p.Entities {
		switch e.Category {
		case common.CategoryPerson:
			s.Persons++
		case common.CategoryCompany:
			s.Companies++
		}
	}
	return s
}
