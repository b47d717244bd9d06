// Package stream implements the streaming-response orchestration core:
// admission, protocol selection, the provider read loop, tag extraction,
// chunked delivery with heartbeat supervision, progress persistence and
// terminal finalization.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/relay/internal/config"
	"github.com/xpanvictor/relay/internal/domains/compat"
	"github.com/xpanvictor/relay/internal/types"
	"github.com/xpanvictor/relay/pkg/Logger"
	"github.com/xpanvictor/relay/pkg/extract"
	"github.com/xpanvictor/relay/pkg/provider"
)

var (
	ErrTooManyStreams = errors.New("too many active streams for this session")
)

// flushThreshold is how many pending delta bytes trigger an eager flush.
const flushThreshold = 24

// StreamRequest is one prepared streaming request entering the orchestrator.
type StreamRequest struct {
	Actor            types.Actor
	Session          types.Session
	Connection       provider.Connection
	ClientMessageID  string
	ReasoningEnabled bool
	MaxTokens        int
	Temperature      *float64
}

type StreamService interface {
	Stream(ctx context.Context, req StreamRequest, em Emitter) error
	Cancel(session uuid.UUID, ref CancelRef) bool
}

type streamService struct {
	cfg       config.StreamConfig
	admission *Admission
	compat    compat.CompatService
	store     MessageStore
	caller    provider.Caller
	fallback  *Fallback
	finalizer *Finalizer
	tagPairs  []extract.TagPair
	logger    *Logger.Logger
}

func New(
	cfg config.StreamConfig,
	admission *Admission,
	compatSvc compat.CompatService,
	store MessageStore,
	caller provider.Caller,
	tokenizer Tokenizer,
	logger *Logger.Logger,
) StreamService {
	return &streamService{
		cfg:       cfg,
		admission: admission,
		compat:    compatSvc,
		store:     store,
		caller:    caller,
		fallback:  NewFallback(caller, logger.Component("fallback")),
		finalizer: NewFinalizer(store, tokenizer, logger.Component("finalizer")),
		tagPairs:  extract.DefaultTagPairs,
		logger:    logger,
	}
}

// Cancel implements the companion cancellation entry point.
func (s *streamService) Cancel(session uuid.UUID, ref CancelRef) bool {
	return s.admission.Cancel(session, ref)
}

// deltaBuffer accumulates visible/reasoning deltas between flushes so the
// heartbeat supervisor can force partial output to the client.
type deltaBuffer struct {
	mu        sync.Mutex
	d         *Delivery
	msgID     *uint
	visible   strings.Builder
	reasoning strings.Builder
}

func (b *deltaBuffer) Add(visible, reasoning string) {
	b.mu.Lock()
	b.visible.WriteString(visible)
	b.reasoning.WriteString(reasoning)
	b.mu.Unlock()
}

func (b *deltaBuffer) pendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible.Len() + b.reasoning.Len()
}

// Flush enqueues whatever is pending. Safe from both the read loop and the
// heartbeat goroutine.
func (b *deltaBuffer) Flush() {
	b.mu.Lock()
	vis, rea := b.visible.String(), b.reasoning.String()
	b.visible.Reset()
	b.reasoning.Reset()
	b.mu.Unlock()

	if vis != "" {
		b.d.Enqueue(types.StreamEvent{Type: types.EventContent, MessageID: b.msgID, Delta: vis})
	}
	if rea != "" {
		b.d.Enqueue(types.StreamEvent{Type: types.EventReasoning, MessageID: b.msgID, Delta: rea})
	}
}

// runState accumulates the response across the read loop.
type runState struct {
	content      strings.Builder
	reasoning    strings.Builder
	extractSt    extract.State
	usage        *types.Usage
	firstChunkAt time.Time
	lastStatus   int
	finishReason string
}

// Stream drives one response lifecycle end to end. The returned error is the
// fatal category only; absorbed failures surface as events.
func (s *streamService) Stream(ctx context.Context, req StreamRequest, em Emitter) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout())
	defer cancel()

	assistantClientID := uuid.New().String()
	slot := s.admission.Register(req.Actor, req.Session.ID, req.ClientMessageID, assistantClientID, cancel)
	if slot == nil {
		return ErrTooManyStreams
	}
	defer s.admission.Release(slot)

	delivery := NewDelivery(ctx, em, s.logger.Component("delivery"))

	created, err := s.store.UpsertByClientID(ctx, AssistantMessage{
		SessionID: req.Session.ID,
		ClientID:  assistantClientID,
		Status:    types.StatusPending,
	})
	if err != nil {
		delivery.Enqueue(types.StreamEvent{Type: types.EventError, Message: "could not create assistant message"})
		return fmt.Errorf("create assistant message: %w", err)
	}
	msgID := created.ID
	s.admission.BindMessageID(slot, msgID)
	delivery.Enqueue(types.StreamEvent{Type: types.EventStart, MessageID: &msgID})

	progress := NewProgress(s.store, s.cfg, req.Session.ID, assistantClientID, msgID, s.logger.Component("progress"))
	buf := &deltaBuffer{d: delivery, msgID: &msgID}

	key := compat.ProfileKey{
		Provider:     req.Connection.Name,
		ConnectionID: req.Session.ConnectionID,
		ModelID:      req.Session.ModelID,
	}
	decision := s.compat.DecideProtocol(key, req.ReasoningEnabled, req.Connection.Traits)
	attempt := s.compat.CreateAttempt(key, decision, req.ReasoningEnabled)
	s.logger.Infof("stream %d: protocol %s (%s)", msgID, decision.Protocol, decision.Reason)

	requestStartedAt := time.Now()

	hb := NewHeartbeat(delivery, s.cfg, cancel, buf.Flush)
	hbCtx, hbStop := context.WithCancel(context.Background())
	defer hbStop()
	go hb.Run(hbCtx)

	run := &runState{}
	streamErr := s.runUpstream(callCtx, req, key, &attempt, run, buf, hb, progress)
	hbStop()
	s.drainExtractor(run, buf, attempt)
	buf.Flush()

	return s.finish(ctx, req, slot, delivery, progress, attempt, run, buf, streamErr, requestStartedAt)
}

// runUpstream issues the provider call (with one B→A unsupported fallback)
// and drives the read loop. attempt is a pointer because the fallback
// replaces it.
func (s *streamService) runUpstream(
	callCtx context.Context,
	req StreamRequest,
	key compat.ProfileKey,
	attempt **compat.Attempt,
	run *runState,
	buf *deltaBuffer,
	hb *Heartbeat,
	progress *Progress,
) error {
	resp, err := s.callOnce(callCtx, req, (*attempt).Protocol)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status, body := drainError(resp)
		run.lastStatus = status
		statusErr := fmt.Errorf("provider status %d: %s", status, truncate(body, 200))

		if (*attempt).Protocol == compat.ProtocolResponses && compat.IsUnsupportedResponses(status, body) {
			// fold the rejected attempt into the profile, no advisory, and
			// retry the same logical request once on the chat protocol
			s.compat.FinalizeAttempt(callCtx, *attempt, status, statusErr)
			d := compat.Decision{Protocol: compat.ProtocolChat, Reason: compat.ReasonResponsesUnsupported}
			*attempt = s.compat.CreateAttempt(key, d, req.ReasoningEnabled)
			s.logger.Warnf("responses endpoint unsupported (%d), retrying on chat", status)

			resp, err = s.callOnce(callCtx, req, compat.ProtocolChat)
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				status, body = drainError(resp)
				run.lastStatus = status
				return fmt.Errorf("provider status %d: %s", status, truncate(body, 200))
			}
		} else {
			return statusErr
		}
	}

	defer resp.Body.Close()
	return s.readLoop(callCtx, resp.Body, (*attempt), run, buf, hb, progress)
}

func (s *streamService) callOnce(ctx context.Context, req StreamRequest, proto compat.Protocol) (*http.Response, error) {
	desc, err := provider.BuildDescriptor(req.Connection, provider.CallRequest{
		Protocol:    proto,
		Model:       req.Session.ModelID,
		Messages:    req.Session.History,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return s.caller.Do(ctx, desc)
}

// readLoop consumes the SSE body line by line until done, error or cancel.
func (s *streamService) readLoop(
	ctx context.Context,
	body io.Reader,
	attempt *compat.Attempt,
	run *runState,
	buf *deltaBuffer,
	hb *Heartbeat,
	progress *Progress,
) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		ev, ok := provider.ParseLine(attempt.Protocol, data)
		if !ok {
			// malformed lines are logged and skipped, never fatal
			s.logger.Debugf("skipping malformed stream line: %s", truncate(data, 80))
			continue
		}
		if ev.Kind == provider.KindSkip {
			continue
		}
		hb.NoteChunk()

		switch ev.Kind {
		case provider.KindContent:
			if run.firstChunkAt.IsZero() {
				run.firstChunkAt = time.Now()
			}
			vis, rea, _, _ := extract.Extract(ev.Text, s.tagPairs, &run.extractSt)
			if rea != "" {
				attempt.MarkReasoningObserved(compat.SignalTaggedThinking)
			}
			run.content.WriteString(vis)
			run.reasoning.WriteString(rea)
			buf.Add(vis, rea)

		case provider.KindReasoning:
			if run.firstChunkAt.IsZero() {
				run.firstChunkAt = time.Now()
			}
			attempt.MarkReasoningObserved(ev.Signal)
			run.reasoning.WriteString(ev.Text)
			buf.Add("", ev.Text)

		case provider.KindUsage:
			run.usage = ev.Usage

		case provider.KindStop:
			run.finishReason = ev.FinishReason
			if ev.Usage != nil {
				run.usage = ev.Usage
			}

		case provider.KindDone:
			if ev.Usage != nil {
				run.usage = ev.Usage
			}
			return nil
		}
		if ev.Usage != nil && run.usage == nil {
			run.usage = ev.Usage
		}

		if buf.pendingLen() >= flushThreshold {
			buf.Flush()
		}
		if _, err := progress.Persist(ctx, run.content.String(), run.reasoning.String(), types.StatusStreaming, ""); err != nil {
			s.logger.Errorf("progress persist: %v", err)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return ctx.Err()
}

// drainExtractor flushes an unterminated tag per the non-nesting contract:
// residue inside a tag counts as reasoning.
func (s *streamService) drainExtractor(run *runState, buf *deltaBuffer, attempt *compat.Attempt) {
	vis, rea := extract.Drain(&run.extractSt)
	if vis != "" {
		run.content.WriteString(vis)
	}
	if rea != "" {
		attempt.MarkReasoningObserved(compat.SignalTaggedThinking)
		run.reasoning.WriteString(rea)
	}
	buf.Add(vis, rea)
}

// finish runs the single terminal path: fallback when nothing usable
// arrived, advisory, profile finalization, usage/metrics reconciliation and
// the forced terminal persist. Every exit of Stream funnels through here
// exactly once.
func (s *streamService) finish(
	ctx context.Context,
	req StreamRequest,
	slot *Slot,
	delivery *Delivery,
	progress *Progress,
	attempt *compat.Attempt,
	run *runState,
	buf *deltaBuffer,
	streamErr error,
	requestStartedAt time.Time,
) error {
	cancelled := s.admission.Cancelled(slot) ||
		errors.Is(streamErr, context.Canceled) ||
		delivery.CloseReason() == CloseClientGone

	// finalization must outlive a dead client connection
	finCtx, cancelFin := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFin()

	// empty-result remedy: one non-stream reissue before declaring failure
	if !cancelled && run.content.Len() == 0 {
		n, ferr := s.fallback.Run(ctx, req.Connection, provider.CallRequest{
			Protocol:    attempt.Protocol,
			Model:       req.Session.ModelID,
			Messages:    req.Session.History,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if ferr == nil {
			vis, rea := n.Content, n.Reasoning
			if rea == "" {
				st := extract.State{}
				vis, rea, _, _ = extract.Extract(n.Content, s.tagPairs, &st)
				dv, dr := extract.Drain(&st)
				vis += dv
				rea += dr
			}
			run.content.Reset()
			run.content.WriteString(vis)
			run.reasoning.Reset()
			run.reasoning.WriteString(rea)
			if rea != "" {
				attempt.MarkReasoningObserved(compat.SignalReasoningField)
			}
			if n.Usage != nil {
				run.usage = n.Usage
			}
			buf.Add(vis, "")
			buf.Flush()
			streamErr = nil
		} else if streamErr == nil {
			streamErr = ferr
			s.logger.Errorf("non-stream fallback failed: %v", ferr)
		} else {
			// propagate the original stream error, not the fallback's
			s.logger.Errorf("non-stream fallback failed after stream error: %v", ferr)
		}
	}

	status := types.StatusDone
	errText := ""
	switch {
	case cancelled:
		status = types.StatusCancelled
		streamErr = nil
	case streamErr != nil:
		status = types.StatusError
		errText = streamErr.Error()
	}

	if status == types.StatusDone {
		if notice := s.compat.BuildUnavailableNotice(attempt); notice != nil {
			delivery.Enqueue(types.StreamEvent{
				Type:    types.EventReasoningUnavailable,
				Code:    notice.Code,
				Message: notice.Reason + "; " + notice.Suggestion,
			})
		}
	}

	if _, err := s.compat.FinalizeAttempt(finCtx, attempt, run.lastStatus, streamErr); err != nil {
		s.logger.Errorf("finalize attempt: %v", err)
	}

	var prompt strings.Builder
	for _, m := range req.Session.History {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}
	usage, metrics, err := s.finalizer.Finalize(finCtx, FinalizeInput{
		Progress:         progress,
		Content:          run.content.String(),
		Reasoning:        run.reasoning.String(),
		Status:           status,
		LastError:        errText,
		ProviderUsage:    run.usage,
		PromptText:       prompt.String(),
		RequestStartedAt: requestStartedAt,
		FirstChunkAt:     run.firstChunkAt,
		CompletedAt:      time.Now(),
		HistoryLimit:     s.cfg.HistoryLimit(),
	})
	if err != nil {
		s.logger.Errorf("terminal persist: %v", err)
	}

	id := progress.MessageID()
	switch status {
	case types.StatusError:
		delivery.Enqueue(types.StreamEvent{Type: types.EventError, MessageID: &id, Message: errText})
		delivery.Enqueue(types.StreamEvent{Type: types.EventEnd, MessageID: &id})
		return streamErr
	case types.StatusCancelled:
		delivery.Enqueue(types.StreamEvent{Type: types.EventStop, MessageID: &id})
		delivery.Enqueue(types.StreamEvent{Type: types.EventEnd, MessageID: &id})
		return nil
	default:
		delivery.Enqueue(types.StreamEvent{Type: types.EventUsage, MessageID: &id, Usage: usage, Metrics: metrics})
		delivery.Enqueue(types.StreamEvent{
			Type:      types.EventComplete,
			MessageID: &id,
			Content:   run.content.String(),
		})
		delivery.Enqueue(types.StreamEvent{Type: types.EventEnd, MessageID: &id})
		return nil
	}
}

func drainError(resp *http.Response) (int, string) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return resp.StatusCode, string(body)
}
