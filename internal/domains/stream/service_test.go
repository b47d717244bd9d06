package stream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/config"
	"github.com/xpanvictor/relay/internal/domains/compat"
	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/provider"
)

type fakeCaller struct {
	mu      sync.Mutex
	calls   []*provider.Descriptor
	handler func(ctx context.Context, call int, d *provider.Descriptor) (*http.Response, error)
}

func (f *fakeCaller) Do(ctx context.Context, d *provider.Descriptor) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, d)
	n := len(f.calls)
	f.mu.Unlock()
	return f.handler(ctx, n, d)
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sseResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// blockingBody blocks reads until the request context dies, mimicking a
// provider that went silent on an open connection.
type blockingBody struct {
	ctx context.Context
}

func (b *blockingBody) Read(_ []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingBody) Close() error { return nil }

func streamConfig() config.StreamConfig {
	return config.StreamConfig{
		MaxStreamsPerActor: 2,
		PersistMinDelta:    8,
		PersistIntervalMS:  60_000,
		SaveReasoning:      true,
		RequestTimeoutMS:   5_000,
		HeartbeatIntervalMS: 60_000, // keep the supervisor quiet in tests
		InitialGraceMS:      60_000,
		MaxIdleMS:           60_000,
	}
}

type harness struct {
	svc    StreamService
	store  *memMessageStore
	caller *fakeCaller
	compat compat.CompatService
	adm    *Admission
}

func newHarness(t *testing.T, caller *fakeCaller) *harness {
	t.Helper()
	store := newMemMessageStore()
	cs := compat.New(nil, 16, time.Hour, testLogger())
	t.Cleanup(cs.Close)
	adm := NewAdmission(2)
	svc := New(streamConfig(), adm, cs, store, caller, HeuristicTokenizer{}, testLogger())
	return &harness{svc: svc, store: store, caller: caller, compat: cs, adm: adm}
}

func testRequest() StreamRequest {
	return StreamRequest{
		Actor: types.Actor{ID: uuid.New(), Type: types.ActorUser},
		Session: types.Session{
			ID:           uuid.New(),
			ConnectionID: "conn-1",
			Provider:     "openai",
			ModelID:      "gpt-test",
			History: []types.ChatMessage{
				{Role: types.USER, Content: "hello"},
			},
		},
		Connection:       provider.Connection{Name: "openai", BaseURL: "https://up.example/v1"},
		ClientMessageID:  "cmsg-1",
		ReasoningEnabled: true,
	}
}

func chatSSE(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: " + l + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func TestStreamHappyPathWithTaggedReasoning(t *testing.T) {
	caller := &fakeCaller{handler: func(_ context.Context, _ int, _ *provider.Descriptor) (*http.Response, error) {
		return sseResponse(200, chatSSE(
			`{"choices":[{"delta":{"content":"hello "}}]}`,
			`{"choices":[{"delta":{"content":"<think>because</think>"}}]}`,
			`{"choices":[{"delta":{"content":"world"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10}}`,
		)), nil
	}}
	h := newHarness(t, caller)
	em := &memEmitter{}

	if err := h.svc.Stream(context.Background(), testRequest(), em); err != nil {
		t.Fatal(err)
	}

	var content, reasoning strings.Builder
	var complete, usage *types.StreamEvent
	for i, ev := range em.all() {
		switch ev.Type {
		case types.EventContent:
			content.WriteString(ev.Delta)
		case types.EventReasoning:
			reasoning.WriteString(ev.Delta)
		case types.EventComplete:
			e := em.all()[i]
			complete = &e
		case types.EventUsage:
			e := em.all()[i]
			usage = &e
		}
	}
	if got := content.String(); got != "hello world" {
		t.Errorf("content deltas = %q", got)
	}
	if got := reasoning.String(); got != "because" {
		t.Errorf("reasoning deltas = %q", got)
	}
	if complete == nil || complete.Content != "hello world" {
		t.Errorf("complete event = %+v", complete)
	}
	if usage == nil || usage.Usage == nil || usage.Usage.CompletionTokens != 6 {
		t.Errorf("usage event = %+v", usage)
	}
	if usage.Usage.Source != types.UsageFromProvider {
		t.Errorf("usage source = %q", usage.Usage.Source)
	}

	kinds := em.kinds()
	if kinds[0] != types.EventStart || kinds[len(kinds)-1] != types.EventEnd {
		t.Errorf("event order = %v", kinds)
	}

	if len(h.store.finals) != 1 {
		t.Fatalf("finals = %d", len(h.store.finals))
	}
	final := h.store.finals[0]
	if final.Content != "hello world" || final.Reasoning != "because" || final.Status != types.StatusDone {
		t.Errorf("final record = %+v", final)
	}

	// tagged reasoning counts as a reasoning hit for the profile
	snap := h.compat.Snapshot(compat.ProfileKey{Provider: "openai", ConnectionID: "conn-1", ModelID: "gpt-test"})
	if snap == nil || snap.Chat.ReasoningHits != 1 {
		t.Errorf("profile = %+v", snap)
	}
}

func TestStreamUnsupportedResponsesFallsBackOnce(t *testing.T) {
	caller := &fakeCaller{handler: func(ctx context.Context, call int, d *provider.Descriptor) (*http.Response, error) {
		if strings.HasSuffix(d.URL, "/responses") {
			return sseResponse(404, "404 page not found"), nil
		}
		return sseResponse(200, chatSSE(`{"choices":[{"delta":{"content":"plain"}}]}`)), nil
	}}
	h := newHarness(t, caller)

	// seed responses-reasoning history so the engine picks protocol B first
	key := compat.ProfileKey{Provider: "openai", ConnectionID: "conn-1", ModelID: "gpt-test"}
	seed := h.compat.CreateAttempt(key, compat.Decision{Protocol: compat.ProtocolResponses, Reason: compat.ReasonDefaultChat}, true)
	seed.MarkReasoningObserved(compat.SignalReasoningDelta)
	h.compat.FinalizeAttempt(context.Background(), seed, 200, nil)

	em := &memEmitter{}
	if err := h.svc.Stream(context.Background(), testRequest(), em); err != nil {
		t.Fatal(err)
	}

	if h.caller.callCount() != 2 {
		t.Fatalf("calls = %d, want responses then chat", h.caller.callCount())
	}
	if !strings.HasSuffix(h.caller.calls[0].URL, "/responses") || !strings.HasSuffix(h.caller.calls[1].URL, "/chat/completions") {
		t.Errorf("call order = %s, %s", h.caller.calls[0].URL, h.caller.calls[1].URL)
	}

	snap := h.compat.Snapshot(key)
	if snap.Responses.UnsupportedErrors != 1 {
		t.Errorf("responses unsupportedErrors = %d", snap.Responses.UnsupportedErrors)
	}
	if snap.Chat.UnsupportedErrors != 0 {
		t.Errorf("chat unsupportedErrors = %d", snap.Chat.UnsupportedErrors)
	}

	if len(h.store.finals) != 1 || h.store.finals[0].Content != "plain" {
		t.Errorf("final = %+v", h.store.finals)
	}
}

func TestStreamSecondFailureIsHardError(t *testing.T) {
	caller := &fakeCaller{handler: func(_ context.Context, _ int, d *provider.Descriptor) (*http.Response, error) {
		if strings.HasSuffix(d.URL, "/responses") {
			return sseResponse(404, "404 page not found"), nil
		}
		return sseResponse(500, "chat exploded"), nil
	}}
	h := newHarness(t, caller)

	key := compat.ProfileKey{Provider: "openai", ConnectionID: "conn-1", ModelID: "gpt-test"}
	seed := h.compat.CreateAttempt(key, compat.Decision{Protocol: compat.ProtocolResponses, Reason: compat.ReasonDefaultChat}, true)
	seed.MarkReasoningObserved(compat.SignalReasoningDelta)
	h.compat.FinalizeAttempt(context.Background(), seed, 200, nil)

	em := &memEmitter{}
	err := h.svc.Stream(context.Background(), testRequest(), em)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("want the protocol-A error surfaced, got %v", err)
	}

	// three upstream calls: responses, chat retry, non-stream fallback
	if h.caller.callCount() != 3 {
		t.Errorf("calls = %d", h.caller.callCount())
	}

	if len(h.store.finals) != 1 || h.store.finals[0].Status != types.StatusError {
		t.Fatalf("final = %+v", h.store.finals)
	}
	if !strings.Contains(h.store.finals[0].LastError, "500") {
		t.Errorf("final error = %q", h.store.finals[0].LastError)
	}

	var sawError bool
	for _, ev := range em.all() {
		if ev.Type == types.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("fatal failure should emit an error event")
	}
}

func TestStreamEmptyResultUsesNonStreamFallback(t *testing.T) {
	caller := &fakeCaller{handler: func(_ context.Context, _ int, d *provider.Descriptor) (*http.Response, error) {
		if strings.Contains(string(d.Body), `"stream":true`) {
			// stream yields nothing usable
			return sseResponse(200, "data: [DONE]\n\n"), nil
		}
		return sseResponse(200, `{"choices":[{"message":{"content":"recovered"}}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`), nil
	}}
	h := newHarness(t, caller)
	em := &memEmitter{}

	if err := h.svc.Stream(context.Background(), testRequest(), em); err != nil {
		t.Fatal(err)
	}

	var content string
	var sawComplete bool
	for _, ev := range em.all() {
		if ev.Type == types.EventContent {
			content += ev.Delta
		}
		if ev.Type == types.EventComplete {
			sawComplete = true
		}
	}
	if content != "recovered" || !sawComplete {
		t.Errorf("fallback should synthesize content+complete, got content=%q complete=%v", content, sawComplete)
	}
	if len(h.store.finals) != 1 || h.store.finals[0].Content != "recovered" {
		t.Errorf("final = %+v", h.store.finals)
	}
	if h.store.finals[0].Usage == nil || h.store.finals[0].Usage.CompletionTokens != 2 {
		t.Errorf("fallback usage should persist, got %+v", h.store.finals[0].Usage)
	}
}

func TestStreamCancelMidFlight(t *testing.T) {
	started := make(chan struct{})
	caller := &fakeCaller{handler: func(ctx context.Context, call int, d *provider.Descriptor) (*http.Response, error) {
		if call == 1 {
			close(started)
			// body never produces data; only context death unblocks it
			return &http.Response{StatusCode: 200, Body: &blockingBody{ctx: ctx}}, nil
		}
		return sseResponse(200, `{}`), nil
	}}
	h := newHarness(t, caller)
	em := &memEmitter{}
	req := testRequest()

	done := make(chan error, 1)
	go func() {
		done <- h.svc.Stream(context.Background(), req, em)
	}()

	<-started
	time.Sleep(20 * time.Millisecond)
	if !h.svc.Cancel(req.Session.ID, CancelRef{ClientMessageID: req.ClientMessageID}) {
		t.Fatal("cancel should find the live slot")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancellation is not an error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not unwind after cancel")
	}

	if len(h.store.finals) != 1 || h.store.finals[0].Status != types.StatusCancelled {
		t.Fatalf("final = %+v", h.store.finals)
	}
	if h.store.finals[0].LastError != "" {
		t.Error("cancelled terminal state must carry no error message")
	}
	for _, ev := range em.all() {
		if ev.Type == types.EventError {
			t.Error("cancellation must not emit an error event")
		}
	}
}

func TestStreamAdmissionCapRejects(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	caller := &fakeCaller{handler: func(_ context.Context, _ int, d *provider.Descriptor) (*http.Response, error) {
		if strings.Contains(string(d.Body), `"stream":true`) {
			started <- struct{}{}
			<-release
			return sseResponse(200, "data: [DONE]\n\n"), nil
		}
		return sseResponse(200, `{"choices":[{"message":{"content":"x"}}]}`), nil
	}}
	h := newHarness(t, caller)
	req := testRequest()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.Stream(context.Background(), req, &memEmitter{})
		}()
	}
	<-started
	<-started

	// cap is 2 for this actor/session; the third must bounce
	if err := h.svc.Stream(context.Background(), req, &memEmitter{}); err != ErrTooManyStreams {
		t.Errorf("got %v, want ErrTooManyStreams", err)
	}
	close(release)
	wg.Wait()

	// slots released; a new stream admits again
	if err := h.svc.Stream(context.Background(), req, &memEmitter{}); err == ErrTooManyStreams {
		t.Error("slots should be free after release")
	}
}

func TestStreamReasoningUnavailableAdvisory(t *testing.T) {
	caller := &fakeCaller{handler: func(_ context.Context, _ int, d *provider.Descriptor) (*http.Response, error) {
		if strings.Contains(string(d.Body), `"stream":true`) {
			return sseResponse(200, chatSSE(`{"choices":[{"delta":{"content":"dry answer"}}]}`)), nil
		}
		return sseResponse(200, `{}`), nil
	}}
	h := newHarness(t, caller)
	em := &memEmitter{}

	if err := h.svc.Stream(context.Background(), testRequest(), em); err != nil {
		t.Fatal(err)
	}

	var advisory *types.StreamEvent
	for i, ev := range em.all() {
		if ev.Type == types.EventReasoningUnavailable {
			e := em.all()[i]
			advisory = &e
		}
	}
	if advisory == nil || advisory.Code != compat.NoticeChatNoReasoning {
		t.Errorf("advisory = %+v", advisory)
	}
}
