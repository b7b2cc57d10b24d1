package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/ai"
	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/graph"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"
)

// Processor runs the pipeline for a batch of changes or the whole vault.
type Processor interface {
	HandleEvents(ctx context.Context, events []common.Event) (graph.Report, error)
	ProcessVault(ctx context.Context) (graph.Report, error)
}

// Include reports whether a path is a document.
type Include func(rel string) bool

// Consume processes batches until the channel is closed or ctx is done. A
// batch that names something other than a document, such as a removed
// directory, triggers a full vault run. Errors are logged; the next batch
// is processed regardless.
func Consume(ctx context.Context, batches <-chan []common.Event, p Processor, include Include, metrics ai.GraphAIClient) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Watch] Stopping batch processor")
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			handleBatch(ctx, batch, p, include, metrics)
		}
	}
}

func handleBatch(ctx context.Context, batch []common.Event, p Processor, include Include, metrics ai.GraphAIClient) {
	start := time.Now()
	logger.Info("[Watch] Received changes", "events", len(batch))

	full := false
	for _, ev := range batch {
		if !include(ev.Path) {
			full = true
			break
		}
	}

	var (
		report graph.Report
		err    error
	)
	if full {
		logger.Info("[Watch] Directory change, scanning the whole vault")
		report, err = p.ProcessVault(ctx)
	} else {
		report, err = p.HandleEvents(ctx, batch)
	}
	logRun(report, err, start, metrics)
}

// RunVault processes the whole vault once and logs the outcome like a
// watched batch.
func RunVault(ctx context.Context, p Processor, metrics ai.GraphAIClient) (graph.Report, error) {
	start := time.Now()
	logger.Info("[Watch] Scanning the whole vault")
	report, err := p.ProcessVault(ctx)
	logRun(report, err, start, metrics)
	return report, err
}

func logRun(report graph.Report, err error, start time.Time, metrics ai.GraphAIClient) {
	if err != nil {
		logger.Error("[Watch] Processing changes failed", "err", err)
	}
	for _, res := range report.Failed() {
		logger.Warn("[Watch] Document failed", "path", res.Path, "err", res.Err)
	}

	if metrics != nil {
		m := metrics.GetMetrics()
		logger.Info(
			"[Watch] AI Metrics",
			"input_tokens", m.InputTokens,
			"output_tokens", m.OutputTokens,
			"total_tokens", m.TotalTokens,
			"duration", formatDuration(time.Duration(m.DurationMs)*time.Millisecond),
		)
		metrics.ResetMetrics()
	}
	logger.Info("[Watch] Processing time", "duration", formatDuration(time.Since(start)), "rebuilt", report.Rebuilt)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
