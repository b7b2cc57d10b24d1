// Package leaselock provides named, cross-process locks backed by lock
// files in the state directory.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var ErrBusy = errors.New("lease lock busy")

type Client struct {
	dir string
}

type Options struct {
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration
}

// Lease is a held lock. Context is canceled when the lease is released.
type Lease struct {
	Key     string
	Context context.Context

	lock   *flock.Flock
	cancel context.CancelFunc
	once   sync.Once
}

func New(dir string) *Client {
	return &Client{dir: dir}
}

func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release()
	}()
	return fn(lease.Context)
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return nil, fmt.Errorf("invalid lease lock key %q", key)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(c.dir, key+".lock"))
	for {
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	return &Lease{Key: key, Context: leaseCtx, lock: lock, cancel: cancel}, nil
}

func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.lock.Unlock()
	})
	return err
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
