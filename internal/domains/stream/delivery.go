package stream

import (
	"context"
	"sync"
	"time"

	"github.com/xpanvictor/relay/internal/config"
	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/Logger"
)

// Emitter is the outbound delivery channel. The gin handler implements it
// over SSE; tests implement it over slices.
type Emitter interface {
	Write(ev types.StreamEvent) error
	// WriteComment sends a comment-only keepalive line.
	WriteComment() error
}

// Close reasons recorded by Delivery.
const (
	CloseClientGone  = "client_gone"
	CloseWriteFailed = "write_failed"
)

// Delivery wraps one Emitter with closed-state tracking. Once the downstream
// side fails or the client context ends, every later enqueue is a no-op.
type Delivery struct {
	mu          sync.Mutex
	emitter     Emitter
	clientCtx   context.Context
	closed      bool
	closeReason string
	logger      *Logger.Logger
}

func NewDelivery(clientCtx context.Context, em Emitter, logger *Logger.Logger) *Delivery {
	return &Delivery{
		emitter:   em,
		clientCtx: clientCtx,
		logger:    logger,
	}
}

// Enqueue writes one event. Returns false once the channel is closed.
func (d *Delivery) Enqueue(ev types.StreamEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if d.clientCtx != nil && d.clientCtx.Err() != nil {
		d.markClosedLocked(CloseClientGone)
		return false
	}
	if err := d.emitter.Write(ev); err != nil {
		d.logger.Debugf("delivery write %v failed: %v", ev.Type, err)
		d.markClosedLocked(CloseWriteFailed)
		return false
	}
	return true
}

// Keepalive writes a comment-only line; same closed semantics as Enqueue.
func (d *Delivery) Keepalive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if err := d.emitter.WriteComment(); err != nil {
		d.markClosedLocked(CloseWriteFailed)
		return false
	}
	return true
}

// MarkClosed records the channel as closed. Idempotent; the first reason
// sticks.
func (d *Delivery) MarkClosed(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markClosedLocked(reason)
}

func (d *Delivery) markClosedLocked(reason string) {
	if d.closed {
		return
	}
	d.closed = true
	d.closeReason = reason
}

func (d *Delivery) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Delivery) CloseReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeReason
}

// Heartbeat supervises one stream: it keeps the client connection warm with
// periodic keepalives, cancels the upstream call when the provider never
// answers within the initial grace or goes idle past the hard ceiling, and
// forces delta flushes across softer idle thresholds.
type Heartbeat struct {
	d              *Delivery
	cfg            config.StreamConfig
	cancelUpstream context.CancelFunc
	flush          func()

	mu            sync.Mutex
	startedAt     time.Time
	lastChunk     time.Time // zero until first provider data
	lastKeepalive time.Time
}

func NewHeartbeat(d *Delivery, cfg config.StreamConfig, cancelUpstream context.CancelFunc, flush func()) *Heartbeat {
	return &Heartbeat{
		d:              d,
		cfg:            cfg,
		cancelUpstream: cancelUpstream,
		flush:          flush,
		startedAt:      time.Now(),
	}
}

// NoteChunk records provider activity; called by the read loop per parsed
// event.
func (h *Heartbeat) NoteChunk() {
	h.mu.Lock()
	h.lastChunk = time.Now()
	h.mu.Unlock()
}

// Run drives the supervision ticks until ctx ends. Meant to run as the
// stream's supervisor goroutine; flush and cancel happen synchronously
// relative to each tick.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !h.tick(now) {
				return
			}
		}
	}
}

// tick performs one supervision pass; returns false when supervision should
// stop (upstream cancelled or client gone).
func (h *Heartbeat) tick(now time.Time) bool {
	h.d.Keepalive()
	if h.d.Closed() {
		h.cancelUpstream()
		return false
	}

	h.mu.Lock()
	lastChunk := h.lastChunk
	lastKeepalive := h.lastKeepalive
	h.mu.Unlock()

	if lastChunk.IsZero() {
		if now.Sub(h.startedAt) > h.cfg.InitialGrace() {
			// provider never responded
			h.cancelUpstream()
			return false
		}
		return true
	}

	idle := now.Sub(lastChunk)
	if idle > h.cfg.MaxIdle() {
		h.cancelUpstream()
		return false
	}

	threshold := h.cfg.KeepaliveIdle()
	if h.cfg.ReasoningIdle() < threshold {
		threshold = h.cfg.ReasoningIdle()
	}
	if idle > threshold && now.Sub(lastKeepalive) > h.cfg.KeepaliveSpacing() {
		if h.flush != nil {
			h.flush()
		}
		h.d.Enqueue(types.StreamEvent{Type: types.EventKeepalive})
		h.mu.Lock()
		h.lastKeepalive = now
		h.mu.Unlock()
	}
	return true
}
