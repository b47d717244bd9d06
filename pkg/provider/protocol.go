// Package provider is the protocol-level HTTP collaborator of the streaming
// core: it builds wire requests for both upstream protocols, parses their SSE
// event lines and normalizes non-streaming response shapes. Actual network
// I/O sits behind the Caller interface so tests can substitute a fake.
package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xpanvictor/relay/internal/domains/compat"
	"github.com/xpanvictor/relay/internal/types"
)

// Connection is one configured upstream endpoint.
type Connection struct {
	Name    string
	BaseURL string
	APIKey  string
	Traits  compat.ProviderTraits
}

// CallRequest is the logical request handed to BuildDescriptor.
type CallRequest struct {
	Protocol    compat.Protocol
	Model       string
	Messages    []types.ChatMessage
	Stream      bool
	MaxTokens   int
	Temperature *float64
}

// Descriptor is a fully prepared wire request.
type Descriptor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type chatWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatWireRequest struct {
	Model         string            `json:"model"`
	Messages      []chatWireMessage `json:"messages"`
	Stream        bool              `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type responsesWireItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesWireRequest struct {
	Model       string              `json:"model"`
	Input       []responsesWireItem `json:"input"`
	Stream      bool                `json:"stream"`
	MaxTokens   int                 `json:"max_output_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
}

// BuildDescriptor maps (protocol, model, history, stream) onto a concrete
// request for the connection.
func BuildDescriptor(conn Connection, req CallRequest) (*Descriptor, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("provider: model required")
	}
	base := strings.TrimRight(conn.BaseURL, "/")

	var body any
	var path string
	switch req.Protocol {
	case compat.ProtocolResponses:
		path = base + "/responses"
		items := make([]responsesWireItem, 0, len(req.Messages))
		for _, m := range req.Messages {
			items = append(items, responsesWireItem{Role: string(m.Role), Content: m.Content})
		}
		body = responsesWireRequest{
			Model:       req.Model,
			Input:       items,
			Stream:      req.Stream,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}
	default:
		path = base + "/chat/completions"
		msgs := make([]chatWireMessage, 0, len(req.Messages))
		for _, m := range req.Messages {
			msgs = append(msgs, chatWireMessage{Role: string(m.Role), Content: m.Content})
		}
		wire := chatWireRequest{
			Model:       req.Model,
			Messages:    msgs,
			Stream:      req.Stream,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}
		if req.Stream {
			wire.StreamOptions = &struct {
				IncludeUsage bool `json:"include_usage"`
			}{IncludeUsage: true}
		}
		body = wire
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal request: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if conn.APIKey != "" {
		headers["Authorization"] = "Bearer " + conn.APIKey
	}
	if req.Stream {
		headers["Accept"] = "text/event-stream"
	}

	return &Descriptor{
		Method:  "POST",
		URL:     path,
		Headers: headers,
		Body:    raw,
	}, nil
}
