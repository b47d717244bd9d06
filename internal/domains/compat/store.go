package compat

import (
	"context"
	"sync"
	"time"

	"github.com/xpanvictor/relay/pkg/Logger"
)

// ProfileStore is the durable side of the profile cache.
type ProfileStore interface {
	Save(ctx context.Context, p *Profile) error
	Load(ctx context.Context, key ProfileKey) (*Profile, error)
	// Trim drops the least recently updated entries beyond capacity.
	Trim(ctx context.Context, capacity int) error
}

// flusher coalesces profile writes: marks accumulate in a dirty set and one
// background goroutine drains it after the debounce window. One flusher is
// shared process-wide, not per profile.
type flusher struct {
	mu     sync.Mutex
	dirty  map[string]struct{}
	kick   chan struct{}
	done   chan struct{}
	closed bool

	drain    func(ctx context.Context, keys []string)
	debounce time.Duration
	logger   *Logger.Logger
}

func newFlusher(drain func(ctx context.Context, keys []string), debounce time.Duration, logger *Logger.Logger) *flusher {
	f := &flusher{
		dirty:    make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		drain:    drain,
		debounce: debounce,
		logger:   logger,
	}
	go f.run()
	return f
}

func (f *flusher) MarkDirty(key string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.dirty[key] = struct{}{}
	f.mu.Unlock()
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

func (f *flusher) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.kick:
		}
		// debounce window: writes landing meanwhile ride the same drain
		select {
		case <-f.done:
			return
		case <-time.After(f.debounce):
		}
		f.Flush(context.Background())
	}
}

// Flush drains the dirty set immediately. Used by the run loop, tests and
// shutdown.
func (f *flusher) Flush(ctx context.Context) {
	f.mu.Lock()
	if len(f.dirty) == 0 {
		f.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(f.dirty))
	for k := range f.dirty {
		keys = append(keys, k)
	}
	f.dirty = make(map[string]struct{})
	f.mu.Unlock()

	f.drain(ctx, keys)
}

func (f *flusher) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.done)
	f.Flush(context.Background())
}
