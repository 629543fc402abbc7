package service

import (
	"context"
	"errors"
	"sync"

	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
)

// stubLLM answers each request according to the phase its system prompt
// belongs to.
type stubLLM struct {
	mu       sync.Mutex
	respond  func(phase string, n int) (string, error)
	calls    map[string]int
	requests []llm.Request
}

func newStubLLM(respond func(phase string, n int) (string, error)) *stubLLM {
	return &stubLLM{respond: respond, calls: map[string]int{}}
}

// fixedReplies returns a stub that always gives the same reply per phase.
// Phases without a reply fail.
func fixedReplies(replies map[string]string) *stubLLM {
	return newStubLLM(func(phase string, _ int) (string, error) {
		if r, ok := replies[phase]; ok {
			return r, nil
		}
		return "", errors.New("no reply scripted for " + phase)
	})
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	phase := "unknown"
	for p, system := range defaultSystemPrompts {
		if system == req.SystemPrompt {
			phase = p
		}
	}

	s.mu.Lock()
	s.calls[phase]++
	n := s.calls[phase]
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	content, err := s.respond(phase, n)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content, Model: req.Model, Provider: "stub", Success: true}, nil
}

func (s *stubLLM) count(phase string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[phase]
}
