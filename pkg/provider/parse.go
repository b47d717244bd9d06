package provider

import (
	"encoding/json"
	"strings"

	"github.com/xpanvictor/relay/internal/domains/compat"
	"github.com/xpanvictor/relay/internal/types"
)

// EventKind tags one parsed upstream event.
type EventKind string

const (
	KindContent   EventKind = "content"
	KindReasoning EventKind = "reasoning"
	KindUsage     EventKind = "usage"
	KindStop      EventKind = "stop"
	KindDone      EventKind = "done"
	// KindSkip marks lines carrying nothing the core consumes.
	KindSkip EventKind = "skip"
)

// Event is one normalized upstream stream event.
type Event struct {
	Kind         EventKind
	Text         string
	Usage        *types.Usage
	FinishReason string
	// Signal names the reasoning evidence for the compatibility engine.
	Signal compat.Signal
}

// ParseLine parses one SSE `data:` payload for the given protocol.
// Malformed JSON yields (skip, false) so the read loop can log and move on.
func ParseLine(proto compat.Protocol, data string) (Event, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return Event{Kind: KindSkip}, true
	}
	if data == "[DONE]" {
		return Event{Kind: KindDone}, true
	}
	if proto == compat.ProtocolResponses {
		return parseResponsesEvent(data)
	}
	return parseChatEvent(data)
}

type chatStreamDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

type chatStreamChoice struct {
	Delta        chatStreamDelta `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

func (u *wireUsage) toUsage() *types.Usage {
	if u == nil {
		return nil
	}
	out := &types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Source:           types.UsageFromProvider,
	}
	if out.PromptTokens == 0 {
		out.PromptTokens = u.InputTokens
	}
	if out.CompletionTokens == 0 {
		out.CompletionTokens = u.OutputTokens
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

type chatStreamChunk struct {
	Choices []chatStreamChoice `json:"choices"`
	Usage   *wireUsage         `json:"usage"`
}

func parseChatEvent(data string) (Event, bool) {
	var chunk chatStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Event{Kind: KindSkip}, false
	}
	if len(chunk.Choices) == 0 {
		if u := chunk.Usage.toUsage(); !u.Empty() {
			return Event{Kind: KindUsage, Usage: u}, true
		}
		return Event{Kind: KindSkip}, true
	}

	choice := chunk.Choices[0]
	ev := Event{Kind: KindSkip}
	switch {
	case choice.Delta.ReasoningContent != "":
		ev = Event{Kind: KindReasoning, Text: choice.Delta.ReasoningContent, Signal: compat.SignalReasoningDelta}
	case choice.Delta.Reasoning != "":
		ev = Event{Kind: KindReasoning, Text: choice.Delta.Reasoning, Signal: compat.SignalReasoningField}
	case choice.Delta.Content != "":
		ev = Event{Kind: KindContent, Text: choice.Delta.Content}
	}
	if choice.FinishReason != "" {
		ev.FinishReason = choice.FinishReason
		if ev.Kind == KindSkip {
			ev.Kind = KindStop
		}
	}
	if u := chunk.Usage.toUsage(); !u.Empty() {
		ev.Usage = u
		if ev.Kind == KindSkip {
			ev.Kind = KindUsage
		}
	}
	return ev, true
}

type responsesStreamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Text     string `json:"text"`
	Response *struct {
		Usage *wireUsage `json:"usage"`
	} `json:"response"`
}

func parseResponsesEvent(data string) (Event, bool) {
	var ev responsesStreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Event{Kind: KindSkip}, false
	}

	delta := ev.Delta
	if delta == "" {
		delta = ev.Text
	}

	switch ev.Type {
	case "response.output_text.delta":
		return Event{Kind: KindContent, Text: delta}, true
	case "response.reasoning_text.delta":
		return Event{Kind: KindReasoning, Text: delta, Signal: compat.SignalReasoningDelta}, true
	case "response.reasoning_summary_text.delta":
		return Event{Kind: KindReasoning, Text: delta, Signal: compat.SignalReasoningSummary}, true
	case "response.completed", "response.done", "response.incomplete":
		out := Event{Kind: KindDone}
		if ev.Response != nil {
			if u := ev.Response.Usage.toUsage(); !u.Empty() {
				out.Usage = u
			}
		}
		return out, true
	case "response.failed":
		return Event{Kind: KindStop, FinishReason: "failed"}, true
	default:
		return Event{Kind: KindSkip}, true
	}
}

// Normalized is the provider-shape-independent view of a non-streaming reply.
type Normalized struct {
	Content   string
	Reasoning string
	Usage     *types.Usage
}

// extractor is one named shape probe; probes run in priority order and the
// first non-empty result wins.
type extractor struct {
	name string
	fn   func(raw map[string]json.RawMessage) (string, string)
}

var completionExtractors = []extractor{
	{name: "chat_choices", fn: extractChatChoices},
	{name: "single_message", fn: extractSingleMessage},
	{name: "responses_output", fn: extractResponsesOutput},
	{name: "plain_text", fn: extractPlainText},
}

// NormalizeCompletion maps any known non-streaming reply shape into a
// Normalized result. Empty content across all extractors is a failure signal
// for the caller, not an error here.
func NormalizeCompletion(body []byte) (*Normalized, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	out := &Normalized{}
	for _, ex := range completionExtractors {
		content, reasoning := ex.fn(raw)
		if content != "" || reasoning != "" {
			out.Content = content
			out.Reasoning = reasoning
			break
		}
	}

	var u wireUsage
	if rawUsage, ok := raw["usage"]; ok {
		if err := json.Unmarshal(rawUsage, &u); err == nil {
			if usage := u.toUsage(); !usage.Empty() {
				out.Usage = usage
			}
		}
	}
	return out, nil
}

type wireMessage struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
	Thinking         string `json:"thinking"`
	Thought          string `json:"thought"`
}

// reasoning field keys probed in priority order
func (m wireMessage) reasoningText() string {
	for _, v := range []string{m.ReasoningContent, m.Reasoning, m.Thinking, m.Thought} {
		if v != "" {
			return v
		}
	}
	return ""
}

func extractChatChoices(raw map[string]json.RawMessage) (string, string) {
	rawChoices, ok := raw["choices"]
	if !ok {
		return "", ""
	}
	var choices []struct {
		Message wireMessage `json:"message"`
	}
	if err := json.Unmarshal(rawChoices, &choices); err != nil || len(choices) == 0 {
		return "", ""
	}
	return choices[0].Message.Content, choices[0].Message.reasoningText()
}

func extractSingleMessage(raw map[string]json.RawMessage) (string, string) {
	rawMsg, ok := raw["message"]
	if !ok {
		return "", ""
	}
	var msg wireMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		return "", ""
	}
	return msg.Content, msg.reasoningText()
}

func extractResponsesOutput(raw map[string]json.RawMessage) (string, string) {
	rawOut, ok := raw["output"]
	if !ok {
		return "", ""
	}
	var items []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(rawOut, &items); err != nil {
		return "", ""
	}
	var content, reasoning strings.Builder
	for _, item := range items {
		for _, c := range item.Content {
			switch {
			case item.Type == "reasoning" || c.Type == "reasoning_text":
				reasoning.WriteString(c.Text)
			case c.Type == "output_text" || c.Type == "text":
				content.WriteString(c.Text)
			}
		}
	}
	return content.String(), reasoning.String()
}

func extractPlainText(raw map[string]json.RawMessage) (string, string) {
	rawText, ok := raw["text"]
	if !ok {
		return "", ""
	}
	var text string
	if err := json.Unmarshal(rawText, &text); err != nil {
		return "", ""
	}
	return text, ""
}
