package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StubRule answers requests whose model and prompts contain the given
// substrings. Empty matchers match anything.
type StubRule struct {
	Model          string
	SystemContains string
	UserContains   string
	Response       map[string]interface{}
	Err            error
}

// Stub is a deterministic in-process gateway for tests and offline runs.
type Stub struct {
	mu       sync.Mutex
	rules    []StubRule
	fallback map[string]interface{}
	calls    []Request
}

func NewStub(rules ...StubRule) *Stub {
	return &Stub{rules: rules}
}

// On appends a rule and returns the stub for chaining.
func (s *Stub) On(rule StubRule) *Stub {
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()
	return s
}

// Fallback sets the reply used when no rule matches.
func (s *Stub) Fallback(resp map[string]interface{}) *Stub {
	s.mu.Lock()
	s.fallback = resp
	s.mu.Unlock()
	return s
}

func (s *Stub) Provider() string { return ProviderStub }

func (s *Stub) Complete(ctx context.Context, req Request) (map[string]interface{}, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	rules := s.rules
	fallback := s.fallback
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	system := strings.ToLower(req.System())
	user := strings.ToLower(lastUser(req.Messages))
	for _, r := range rules {
		if r.Model != "" && r.Model != req.Model {
			continue
		}
		if r.SystemContains != "" && !strings.Contains(system, strings.ToLower(r.SystemContains)) {
			continue
		}
		if r.UserContains != "" && !strings.Contains(user, strings.ToLower(r.UserContains)) {
			continue
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return copyMap(r.Response), nil
	}

	if fallback != nil {
		return copyMap(fallback), nil
	}
	return nil, fmt.Errorf("%w: stub has no rule for request", ErrMalformedOutput)
}

// Calls returns the requests seen so far.
func (s *Stub) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

func lastUser(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = copyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
