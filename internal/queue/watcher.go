// Package queue turns file system changes in the vault into debounced
// batches for the pipeline.
package queue

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/vaultgraph/pkg/common"
	"github.com/OFFIS-RIT/vaultgraph/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

// Vault is the part of the vault the watcher needs to filter paths.
type Vault interface {
	Root() string
	Rel(abs string) (string, error)
	Include(rel string) bool
	IncludeDir(rel string) bool
}

// Watcher watches every included directory of a vault recursively and
// emits one event per document change.
type Watcher struct {
	fs     *fsnotify.Watcher
	vault  Vault
	events chan common.Event
	now    func() time.Time
}

// NewWatcher registers watches for the vault root and all included
// subdirectories.
func NewWatcher(v Vault) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:     fw,
		vault:  v,
		events: make(chan common.Event, 256),
		now:    time.Now,
	}
	if err := w.addTree(v.Root(), nil); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the raw, not yet debounced, event stream. It is closed when
// Run returns.
func (w *Watcher) Events() <-chan common.Event {
	return w.events
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// addTree watches dir and its included subdirectories. Documents found on
// the way are passed to found, which catches files written into a new
// directory before its watch was registered.
func (w *Watcher) addTree(dir string, found func(rel string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel := w.rel(p)
		if d.IsDir() {
			if rel != "" && !w.vault.IncludeDir(rel) {
				return filepath.SkipDir
			}
			if err := w.fs.Add(p); err != nil {
				return err
			}
			logger.Debug("[Watch] Watching directory", "dir", p)
			return nil
		}
		if found != nil && rel != "" && w.vault.Include(rel) {
			found(rel)
		}
		return nil
	})
}

func (w *Watcher) rel(abs string) string {
	if filepath.Clean(abs) == filepath.Clean(w.vault.Root()) {
		return ""
	}
	rel, err := w.vault.Rel(abs)
	if err != nil {
		return ""
	}
	return rel
}

// Run forwards file system events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logger.Error("[Watch] Watcher error", "err", err)
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel := w.rel(ev.Name)
	if rel == "" {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.vault.IncludeDir(rel) {
				return
			}
			err := w.addTree(ev.Name, func(doc string) {
				w.emit(ctx, doc, common.EventCreate)
			})
			if err != nil {
				logger.Warn("[Watch] Could not watch new directory", "dir", rel, "err", err)
			}
			return
		}
	}

	// a removed or renamed directory only reports its own path
	if !w.vault.Include(rel) {
		if (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) && path.Ext(rel) == "" && w.vault.IncludeDir(rel) {
			w.emit(ctx, rel, common.EventDelete)
		}
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.emit(ctx, rel, common.EventCreate)
	case ev.Has(fsnotify.Write):
		w.emit(ctx, rel, common.EventModify)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.emit(ctx, rel, common.EventDelete)
	}
}

func (w *Watcher) emit(ctx context.Context, rel string, typ common.EventType) {
	select {
	case w.events <- common.Event{Path: rel, Type: typ, At: w.now()}:
	case <-ctx.Done():
	}
}
