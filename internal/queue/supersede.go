package queue

import (
	"context"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
)

// Superseder invalidates in-flight work for a path.
type Superseder interface {
	Supersede(path string)
}

// Supersede forwards events from in and reports each path to s the moment
// the event arrives, ahead of debouncing. The returned channel is closed
// when in is closed or ctx is done.
func Supersede(ctx context.Context, in <-chan common.Event, s Superseder) <-chan common.Event {
	out := make(chan common.Event)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				s.Supersede(ev.Path)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
