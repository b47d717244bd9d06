package stream

import (
	"testing"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/types"
)

func testActor() types.Actor {
	return types.Actor{ID: uuid.New(), Type: types.ActorUser}
}

func TestAdmissionCap(t *testing.T) {
	a := NewAdmission(2)
	actor := testActor()
	session := uuid.New()

	s1 := a.Register(actor, session, "", "a1", func() {})
	s2 := a.Register(actor, session, "", "a2", func() {})
	if s1 == nil || s2 == nil {
		t.Fatal("first two registrations should succeed")
	}
	if s3 := a.Register(actor, session, "", "a3", func() {}); s3 != nil {
		t.Error("third registration should be rejected at cap 2")
	}

	a.Release(s1)
	if s4 := a.Register(actor, session, "", "a4", func() {}); s4 == nil {
		t.Error("release should free exactly one slot")
	}
	if s5 := a.Register(actor, session, "", "a5", func() {}); s5 != nil {
		t.Error("cap should hold again after refill")
	}
}

func TestAdmissionSeparateSessions(t *testing.T) {
	a := NewAdmission(1)
	actor := testActor()

	if a.Register(actor, uuid.New(), "", "x", func() {}) == nil {
		t.Fatal("register failed")
	}
	if a.Register(actor, uuid.New(), "", "y", func() {}) == nil {
		t.Error("cap is per (actor, session), other sessions must admit")
	}
}

func TestAdmissionReleaseIsSafe(t *testing.T) {
	a := NewAdmission(1)
	a.Release(nil)

	actor := testActor()
	session := uuid.New()
	s := a.Register(actor, session, "", "a", func() {})
	a.Release(s)
	a.Release(s) // double release must not go negative
	if got := a.ActiveCount(actor, session); got != 0 {
		t.Errorf("count after double release = %d", got)
	}
}

func TestCancelByThreeKeys(t *testing.T) {
	a := NewAdmission(5)
	actor := testActor()
	session := uuid.New()

	mk := func(cid, acid string) (*Slot, *bool) {
		fired := false
		s := a.Register(actor, session, cid, acid, func() { fired = true })
		return s, &fired
	}

	s1, f1 := mk("client-1", "assist-1")
	a.BindMessageID(s1, 11)
	if !a.Cancel(session, CancelRef{MessageID: uintPtr(11)}) || !*f1 {
		t.Error("cancel by message id failed")
	}

	s2, f2 := mk("client-2", "assist-2")
	if !a.Cancel(session, CancelRef{ClientMessageID: "client-2"}) || !*f2 {
		t.Error("cancel by client message id failed")
	}
	if !a.Cancelled(s2) {
		t.Error("slot should report cancelled")
	}

	_, f3 := mk("client-3", "assist-3")
	if !a.Cancel(session, CancelRef{AssistantClientID: "assist-3"}) || !*f3 {
		t.Error("cancel by assistant client id failed")
	}
}

func TestPendingCancelMarker(t *testing.T) {
	a := NewAdmission(5)
	actor := testActor()
	session := uuid.New()

	// cancel outruns slot creation
	if a.Cancel(session, CancelRef{ClientMessageID: "early"}) {
		t.Error("cancel with no slot should report false")
	}

	fired := false
	s := a.Register(actor, session, "early", "assist", func() { fired = true })
	if s == nil {
		t.Fatal("register failed")
	}
	if !fired || !a.Cancelled(s) {
		t.Error("pending marker should cancel the slot on arrival")
	}

	// marker is consumed, the next slot with the same key is untouched
	a.Release(s)
	fired2 := false
	s2 := a.Register(actor, session, "early", "assist2", func() { fired2 = true })
	if fired2 || a.Cancelled(s2) {
		t.Error("consumed marker must not fire twice")
	}
}

func TestPendingCancelByMessageID(t *testing.T) {
	a := NewAdmission(5)
	actor := testActor()
	session := uuid.New()

	a.Cancel(session, CancelRef{MessageID: uintPtr(42)})

	fired := false
	s := a.Register(actor, session, "", "assist", func() { fired = true })
	a.BindMessageID(s, 42)
	if !fired {
		t.Error("binding the message id should consume the pending marker")
	}
}

func uintPtr(v uint) *uint { return &v }
