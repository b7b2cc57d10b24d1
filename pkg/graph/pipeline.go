package graph

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
	"github.com/OFFIS-RIT/vaultgraph/pkg/tracker"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one document in a pipeline run.
type Result struct {
	Path       string
	Decision   tracker.Decision
	Status     common.DocumentStatus
	MovedFrom  string
	Deleted    bool
	Superseded bool
	Err        error
}

// Changed reports whether the run altered the cache for this document.
func (r Result) Changed() bool {
	if r.Err != nil || r.Superseded {
		return false
	}
	return r.Deleted || r.MovedFrom != "" || r.Decision != tracker.Skip
}

// Report summarizes a pipeline run.
type Report struct {
	Results []Result
	Rebuilt bool
	Stats   common.GraphStats
}

// Failed returns the results that ended with an error.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

func (r Report) changed() bool {
	return slices.ContainsFunc(r.Results, Result.Changed)
}

// ProcessVault brings the cache in line with the whole vault and rebuilds
// the graph when anything changed or no graph was built yet.
//
// Errors of single documents are reported in the Report and never stop the
// other documents. The returned error is reserved for scan and rebuild
// failures.
func (c *GraphClient) ProcessVault(ctx context.Context) (Report, error) {
	docs, err := c.source.Scan(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("scan vault: %w", err)
	}
	tracked, err := c.tracker.Hashes(ctx)
	if err != nil {
		return Report{}, err
	}
	logger.Info("[Pipeline] Scanned vault", "documents", len(docs), "tracked", len(tracked))

	report := c.sync(ctx, tracked, docs)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	rebuild := report.changed()
	if !rebuild {
		stats, err := c.graph.Stats(ctx)
		rebuild = err != nil || stats.BuiltAt == ""
	}
	if !rebuild {
		logger.Info("[Pipeline] Vault unchanged")
		return report, nil
	}

	stats, err := c.Rebuild(ctx)
	if err != nil {
		return report, err
	}
	report.Rebuilt, report.Stats = true, stats
	return report, nil
}

// Supersede marks every in-flight run for path as stale, so it is discarded
// when it reaches its merge. It must be called as soon as a change for path
// is observed, before the change is queued. A path that is not a document,
// such as a removed directory, supersedes all runs below it.
func (c *GraphClient) Supersede(path string) {
	if c.source.Include(path) {
		c.gens.Begin(path)
		return
	}
	c.gens.BeginPrefix(strings.TrimSuffix(path, "/") + "/")
}

// HandleEvent processes a single watcher event.
func (c *GraphClient) HandleEvent(ctx context.Context, ev common.Event) (Report, error) {
	return c.HandleEvents(ctx, []common.Event{ev})
}

// HandleEvents processes a batch of watcher events and rebuilds once when
// any of them changed the cache.
//
// The file system is the authority for every path: a delete event for a
// file that exists again is a modification, and a create or modify event
// for a file that is gone is a deletion. A delete and a create with the same
// content in one batch are handled as a move.
func (c *GraphClient) HandleEvents(ctx context.Context, events []common.Event) (Report, error) {
	paths := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if !c.source.Include(ev.Path) {
			continue
		}
		paths[ev.Path] = struct{}{}
	}
	if len(paths) == 0 {
		return Report{}, nil
	}

	all, err := c.tracker.Hashes(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	tracked := make(map[string]string)
	var docs []common.Document
	for _, p := range slices.Sorted(maps.Keys(paths)) {
		if h, ok := all[p]; ok {
			tracked[p] = h
		}
		doc, err := c.source.Load(p)
		switch {
		case err == nil:
			docs = append(docs, doc)
		case errors.Is(err, fs.ErrNotExist):
		default:
			logger.Error("[Pipeline] Loading document failed", "path", p, "err", err)
			report.Results = append(report.Results, Result{Path: p, Err: err})
			delete(tracked, p)
		}
	}

	synced := c.sync(ctx, tracked, docs)
	report.Results = append(report.Results, synced.Results...)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if !report.changed() {
		return report, nil
	}

	stats, err := c.Rebuild(ctx)
	if err != nil {
		return report, err
	}
	report.Rebuilt, report.Stats = true, stats
	return report, nil
}

// sync applies moves and deletions derived from tracked and docs, then
// runs the remaining documents through the bounded worker pool.
func (c *GraphClient) sync(ctx context.Context, tracked map[string]string, docs []common.Document) Report {
	var report Report

	moves, deleted := tracker.Plan(tracked, docs)
	movedTo := make(map[string]struct{}, len(moves))
	for _, m := range moves {
		res := Result{Path: m.To, MovedFrom: m.From}
		if err := c.moveDocument(ctx, m.From, m.To); err != nil {
			logger.Warn("[Pipeline] Move failed, reprocessing instead", "from", m.From, "to", m.To, "err", err)
			deleted = append(deleted, m.From)
			continue
		}
		movedTo[m.To] = struct{}{}
		report.Results = append(report.Results, res)
	}
	slices.Sort(deleted)
	for _, p := range deleted {
		res := Result{Path: p, Deleted: true}
		if err := c.purgeDocument(ctx, p); err != nil {
			logger.Error("[Pipeline] Removing document failed", "path", p, "err", err)
			res.Err = err
		}
		report.Results = append(report.Results, res)
	}

	pending := make([]common.Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := movedTo[d.Path]; !ok {
			pending = append(pending, d)
		}
	}
	slices.SortFunc(pending, func(a, b common.Document) int {
		return strings.Compare(a.Path, b.Path)
	})

	results := make([]Result, len(pending))
	var mu sync.Mutex
	processed := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelFiles)
	for i, doc := range pending {
		g.Go(func() error {
			results[i] = c.runDocument(gCtx, doc)
			if results[i].Decision != tracker.Skip {
				mu.Lock()
				processed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Results = append(report.Results, results...)
	logger.Info("[Pipeline] Run finished",
		"documents", len(pending),
		"processed", processed,
		"moved", len(movedTo),
		"deleted", len(deleted),
		"failed", len(report.Failed()),
	)
	return report
}

// runDocument decides on doc and processes it when needed.
func (c *GraphClient) runDocument(ctx context.Context, doc common.Document) Result {
	res := Result{Path: doc.Path}

	decision, err := c.tracker.Decide(ctx, doc, c.retryFailed)
	if err != nil {
		res.Err = err
		return res
	}
	res.Decision = decision
	if decision == tracker.Skip {
		return res
	}
	logger.Debug("[Pipeline] Processing document", "path", doc.Path, "decision", decision)

	gen := c.gens.Begin(doc.Path)
	status, err := c.processDocument(ctx, doc, gen)
	res.Status = status
	switch {
	case errors.Is(err, ErrStaleGeneration):
		res.Superseded = true
	case err != nil:
		logger.Error("[Pipeline] Processing document failed", "path", doc.Path, "err", err)
		res.Err = err
	}
	return res
}
