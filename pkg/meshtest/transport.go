// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package meshtest provides an in-memory transport with scripted failures
// and request capture, plus builders for operation specs, for testing
// mesh components without a network.
package meshtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/meshwork/pkg/transport"
)

// Call records one invocation seen by a ScriptedTransport.
type Call struct {
	Address   string
	Operation string
	Arguments map[string]interface{}
	At        time.Time
}

// ScriptedTransport routes calls to in-process services by address.
// Failures can be queued per operation; queued entries are consumed in
// order before the service itself is called.
type ScriptedTransport struct {
	name string

	mu        sync.Mutex
	services  map[string]transport.Service
	scripted  map[string][]error
	listErrs  map[string]error
	delays    map[string]time.Duration
	calls     []Call
	listCalls map[string]int
	onInvoke  func(Call)
}

// NewScriptedTransport returns a transport reporting name ("http" when empty).
func NewScriptedTransport(name string) *ScriptedTransport {
	if name == "" {
		name = "http"
	}
	return &ScriptedTransport{
		name:      name,
		services:  make(map[string]transport.Service),
		scripted:  make(map[string][]error),
		listErrs:  make(map[string]error),
		delays:    make(map[string]time.Duration),
		listCalls: make(map[string]int),
	}
}

// Serve routes address to svc.
func (s *ScriptedTransport) Serve(address string, svc transport.Service) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[address] = svc
	return s
}

// Remove stops routing address, making it unreachable.
func (s *ScriptedTransport) Remove(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.services, address)
}

// FailNext queues errs to be returned by the next invocations of operation.
func (s *ScriptedTransport) FailNext(operation string, errs ...error) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted[operation] = append(s.scripted[operation], errs...)
	return s
}

// FailList makes discovery of address fail with err until cleared with nil.
func (s *ScriptedTransport) FailList(address string, err error) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.listErrs, address)
	} else {
		s.listErrs[address] = err
	}
	return s
}

// Delay makes every invocation of operation wait d (or until ctx is done).
func (s *ScriptedTransport) Delay(operation string, d time.Duration) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[operation] = d
	return s
}

// OnInvoke registers a hook called for every invocation before it runs.
func (s *ScriptedTransport) OnInvoke(fn func(Call)) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvoke = fn
	return s
}

// Name implements transport.Transport.
func (s *ScriptedTransport) Name() string {
	return s.name
}

// ListOperations implements transport.Transport.
func (s *ScriptedTransport) ListOperations(ctx context.Context, address string) ([]transport.OperationSpec, error) {
	s.mu.Lock()
	s.listCalls[address]++
	err := s.listErrs[address]
	svc, ok := s.services[address]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, transport.Transient("connection refused", fmt.Errorf("dial %s: no service", address))
	}
	return svc.Operations(), nil
}

// Invoke implements transport.Transport.
func (s *ScriptedTransport) Invoke(ctx context.Context, address string, req transport.InvokeRequest) (*transport.InvokeResponse, error) {
	call := Call{Address: address, Operation: req.OperationName, Arguments: copyArgs(req.Arguments), At: time.Now()}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	hook := s.onInvoke
	delay := s.delays[req.OperationName]
	var scripted error
	if queue := s.scripted[req.OperationName]; len(queue) > 0 {
		scripted = queue[0]
		s.scripted[req.OperationName] = queue[1:]
	}
	svc, ok := s.services[address]
	s.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, transport.Transient("invoke interrupted", ctx.Err())
		case <-timer.C:
		}
	}
	if scripted != nil {
		return nil, scripted
	}
	if !ok {
		return nil, transport.Transient("connection refused", fmt.Errorf("dial %s: no service", address))
	}
	if err := ctx.Err(); err != nil {
		return nil, transport.Transient("invoke interrupted", err)
	}
	return svc.Invoke(ctx, req), nil
}

// Calls returns every invocation seen so far.
func (s *ScriptedTransport) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times operation was invoked.
func (s *ScriptedTransport) CallCount(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Operation == operation {
			n++
		}
	}
	return n
}

// ListCount returns how many discovery calls address received.
func (s *ScriptedTransport) ListCount(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls[address]
}

// Reset clears recorded calls and queued failures.
func (s *ScriptedTransport) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.scripted = make(map[string][]error)
	s.listCalls = make(map[string]int)
}

func copyArgs(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
