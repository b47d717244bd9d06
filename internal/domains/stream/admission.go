package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/types"
)

// Slot is one admitted concurrent streaming task for an (actor, session)
// pair. It is owned by the Admission controller from Register to Release.
type Slot struct {
	Actor             types.Actor
	SessionID         uuid.UUID
	ClientMessageID   string
	AssistantClientID string
	MessageID         *uint

	cancel    context.CancelFunc
	cancelled bool
}

// CancelRef carries whichever identifier the cancelling request knows.
type CancelRef struct {
	MessageID         *uint
	ClientMessageID   string
	AssistantClientID string
}

// Admission bounds concurrent streams per (actor, session) and routes
// cancellation to the owning slot by any of three keys. Cancels that outrun
// slot creation land in a pending-marker registry and are consumed as soon
// as the slot appears.
type Admission struct {
	mu          sync.Mutex
	maxPerActor int
	counts      map[string]int
	byMsg       map[string]*Slot
	byCID       map[string]*Slot
	byACID      map[string]*Slot
	pending     map[string]struct{}
}

func NewAdmission(maxPerActor int) *Admission {
	if maxPerActor <= 0 {
		maxPerActor = 3
	}
	return &Admission{
		maxPerActor: maxPerActor,
		counts:      make(map[string]int),
		byMsg:       make(map[string]*Slot),
		byCID:       make(map[string]*Slot),
		byACID:      make(map[string]*Slot),
		pending:     make(map[string]struct{}),
	}
}

func actorKey(actor types.Actor, session uuid.UUID) string {
	return fmt.Sprintf("%s|%s", actor.ID, session)
}

func msgKey(session uuid.UUID, id uint) string {
	return fmt.Sprintf("%s|m|%d", session, id)
}

func cidKey(session uuid.UUID, cid string) string {
	return fmt.Sprintf("%s|c|%s", session, cid)
}

func acidKey(session uuid.UUID, acid string) string {
	return fmt.Sprintf("%s|a|%s", session, acid)
}

// Register admits a new slot, or returns nil when the actor already holds
// maxPerActor slots in this session. A matching pending-cancel marker is
// consumed immediately: the slot comes back already cancelled.
func (a *Admission) Register(actor types.Actor, session uuid.UUID, clientMsgID, assistantClientID string, cancel context.CancelFunc) *Slot {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := actorKey(actor, session)
	if held := a.counts[key]; held >= a.maxPerActor {
		return nil
	}
	a.counts[key]++

	s := &Slot{
		Actor:             actor,
		SessionID:         session,
		ClientMessageID:   clientMsgID,
		AssistantClientID: assistantClientID,
		cancel:            cancel,
	}
	if clientMsgID != "" {
		a.byCID[cidKey(session, clientMsgID)] = s
	}
	if assistantClientID != "" {
		a.byACID[acidKey(session, assistantClientID)] = s
	}
	a.consumePendingLocked(s)
	return s
}

// BindMessageID indexes the slot by its assistant message id once storage
// assigned one, and consumes any pending cancel recorded under that id.
func (a *Admission) BindMessageID(s *Slot, id uint) {
	if s == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s.MessageID = &id
	a.byMsg[msgKey(s.SessionID, id)] = s
	a.consumePendingLocked(s)
}

// Release frees the slot. Safe to call on any exit path; never panics and
// tolerates a nil slot.
func (a *Admission) Release(s *Slot) {
	if s == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := actorKey(s.Actor, s.SessionID)
	if a.counts[key] > 0 {
		a.counts[key]--
	}
	if a.counts[key] == 0 {
		delete(a.counts, key)
	}
	if s.MessageID != nil {
		delete(a.byMsg, msgKey(s.SessionID, *s.MessageID))
	}
	if s.ClientMessageID != "" {
		delete(a.byCID, cidKey(s.SessionID, s.ClientMessageID))
	}
	if s.AssistantClientID != "" {
		delete(a.byACID, acidKey(s.SessionID, s.AssistantClientID))
	}
	// drop any marker that would otherwise leak
	for _, k := range s.markerKeys() {
		delete(a.pending, k)
	}
}

// Cancel aborts the slot matching ref, trying message id, client message id
// and assistant client id in that order. When no slot exists yet the cancel
// is parked as a pending marker and reported as false.
func (a *Admission) Cancel(session uuid.UUID, ref CancelRef) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s *Slot
	if ref.MessageID != nil {
		s = a.byMsg[msgKey(session, *ref.MessageID)]
	}
	if s == nil && ref.ClientMessageID != "" {
		s = a.byCID[cidKey(session, ref.ClientMessageID)]
	}
	if s == nil && ref.AssistantClientID != "" {
		s = a.byACID[acidKey(session, ref.AssistantClientID)]
	}

	if s != nil {
		a.cancelLocked(s)
		return true
	}

	if ref.MessageID != nil {
		a.pending[msgKey(session, *ref.MessageID)] = struct{}{}
	}
	if ref.ClientMessageID != "" {
		a.pending[cidKey(session, ref.ClientMessageID)] = struct{}{}
	}
	if ref.AssistantClientID != "" {
		a.pending[acidKey(session, ref.AssistantClientID)] = struct{}{}
	}
	return false
}

// Cancelled reports whether the slot was cancelled.
func (a *Admission) Cancelled(s *Slot) bool {
	if s == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return s.cancelled
}

// ActiveCount reports the held slots for one (actor, session).
func (a *Admission) ActiveCount(actor types.Actor, session uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[actorKey(actor, session)]
}

func (a *Admission) cancelLocked(s *Slot) {
	if s.cancelled {
		return
	}
	s.cancelled = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (a *Admission) consumePendingLocked(s *Slot) {
	for _, k := range s.markerKeys() {
		if _, ok := a.pending[k]; ok {
			delete(a.pending, k)
			a.cancelLocked(s)
		}
	}
}

func (s *Slot) markerKeys() []string {
	keys := make([]string, 0, 3)
	if s.MessageID != nil {
		keys = append(keys, msgKey(s.SessionID, *s.MessageID))
	}
	if s.ClientMessageID != "" {
		keys = append(keys, cidKey(s.SessionID, s.ClientMessageID))
	}
	if s.AssistantClientID != "" {
		keys = append(keys, acidKey(s.SessionID, s.AssistantClientID))
	}
	return keys
}
