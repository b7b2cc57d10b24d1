package queue

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

// Debounce collects events from in and emits them as one batch once no new
// event arrived for quiet. A later event for a path replaces an earlier one
// in the same window. Batches are sorted by path. The returned channel is
// closed after in is closed and the last batch was delivered, or when ctx
// is done.
func Debounce(ctx context.Context, in <-chan common.Event, quiet time.Duration) <-chan []common.Event {
	out := make(chan []common.Event)

	go func() {
		defer close(out)

		pending := make(map[string]common.Event)
		timer := time.NewTimer(quiet)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			batch := make([]common.Event, 0, len(pending))
			for _, ev := range pending {
				batch = append(batch, ev)
			}
			slices.SortFunc(batch, func(a, b common.Event) int {
				return strings.Compare(a.Path, b.Path)
			})
			clear(pending)

			select {
			case out <- batch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					flush()
					return
				}
				pending[ev.Path] = ev
				timer.Reset(quiet)
			case <-timer.C:
				if !flush() {
					return
				}
			}
		}
	}()

	return out
}
