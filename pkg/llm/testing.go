package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedTurn is one canned reply (or failure) for the scripted client.
type ScriptedTurn struct {
	Response *Response
	Err      error
}

// ScriptedClient is a ChatCompleter test double that replays canned turns
// in order and records every request it saw. Calling past the script fails
// loudly so tests notice unexpected extra turns.
type ScriptedClient struct {
	mu       sync.Mutex
	turns    []ScriptedTurn
	next     int
	Requests []Request
}

// NewScriptedClient builds a client that replays turns in order.
func NewScriptedClient(turns ...ScriptedTurn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// TextTurn is a convenience for a plain assistant reply.
func TextTurn(content string, tokens int) ScriptedTurn {
	return ScriptedTurn{Response: &Response{
		Content: content,
		Usage:   Usage{TotalTokens: tokens},
	}}
}

// ToolTurn is a convenience for a reply that requests tool calls.
func ToolTurn(tokens int, calls ...ToolCall) ScriptedTurn {
	return ScriptedTurn{Response: &Response{
		ToolCalls: calls,
		Usage:     Usage{TotalTokens: tokens},
	}}
}

// ErrTurn is a convenience for a transport failure.
func ErrTurn(err error) ScriptedTurn {
	return ScriptedTurn{Err: err}
}

// ChatCompletion replays the next scripted turn.
func (s *ScriptedClient) ChatCompletion(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if s.next >= len(s.turns) {
		return nil, fmt.Errorf("scripted client exhausted after %d turns", len(s.turns))
	}
	turn := s.turns[s.next]
	s.next++
	if turn.Err != nil {
		return nil, turn.Err
	}
	return turn.Response, nil
}

// Calls reports how many turns were consumed.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
