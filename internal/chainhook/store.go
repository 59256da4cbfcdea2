// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chainhook holds the registered predicate and action pairs that
// react to chain events observed during a devnet run.
package chainhook

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/google/uuid"
)

// Scope selects which kind of chain event a predicate looks at.
type Scope string

const (
	ScopeBlock   Scope = "block"
	ScopeMempool Scope = "mempool"
)

// Predicate matches chain events. Zero values match everything.
type Predicate struct {
	Scope Scope
	// Chain restricts block predicates to one chain role.
	Chain string
	// StartHeight and EndHeight bound block heights, inclusive. Zero is unbounded.
	StartHeight uint64
	EndHeight   uint64
	// TxID matches events carrying this transaction id.
	TxID string
}

// Match reports whether ev satisfies p.
func (p Predicate) Match(ev observer.ChainEvent) bool {
	switch e := ev.(type) {
	case observer.BlockEvent:
		if p.Scope != "" && p.Scope != ScopeBlock {
			return false
		}
		if p.Chain != "" && p.Chain != e.Chain {
			return false
		}
		if p.StartHeight > 0 && e.Height < p.StartHeight {
			return false
		}
		if p.EndHeight > 0 && e.Height > p.EndHeight {
			return false
		}
		return p.TxID == "" || slices.ContainsFunc(e.TxIDs, p.matchTx)
	case observer.MempoolEvent:
		if p.Scope != "" && p.Scope != ScopeMempool {
			return false
		}
		if p.Chain != "" && p.Chain != config.ChainL2 {
			return false
		}
		return p.TxID == "" || slices.ContainsFunc(e.TxIDs, p.matchTx)
	default:
		return false
	}
}

func (p Predicate) matchTx(id string) bool {
	return strings.EqualFold(strings.TrimPrefix(id, "0x"), strings.TrimPrefix(p.TxID, "0x"))
}

// Action runs when a hook's predicate matches.
type Action interface {
	Execute(ctx context.Context, occ Occurrence) error
}

// Hook is a registered predicate and action pair.
type Hook struct {
	ID        string
	Name      string
	Predicate Predicate
	Action    Action
	// Once deregisters the hook after its first trigger.
	Once bool
}

// Store is the set of hooks of a session. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	hooks []*Hook
}

// NewStore returns a store holding hooks.
func NewStore(hooks ...Hook) (*Store, error) {
	s := &Store{}
	for _, h := range hooks {
		if _, err := s.Register(h); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds h and returns its ID, generating one when empty.
func (s *Store) Register(h Hook) (string, error) {
	if strings.TrimSpace(h.Name) == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidHook)
	}
	if h.Action == nil {
		return "", fmt.Errorf("%w: hook %q has no action", ErrInvalidHook, h.Name)
	}
	switch h.Predicate.Scope {
	case "", ScopeBlock, ScopeMempool:
	default:
		return "", fmt.Errorf("%w: hook %q scope %q unsupported", ErrInvalidHook, h.Name, h.Predicate.Scope)
	}
	if h.Predicate.EndHeight > 0 && h.Predicate.EndHeight < h.Predicate.StartHeight {
		return "", fmt.Errorf("%w: hook %q end height before start height", ErrInvalidHook, h.Name)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.hooks {
		if existing.ID == h.ID {
			return "", fmt.Errorf("%w: duplicate id %s", ErrInvalidHook, h.ID)
		}
	}
	hook := h
	s.hooks = append(s.hooks, &hook)
	return hook.ID, nil
}

// Deregister removes the hook with id.
func (s *Store) Deregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.hooks {
		if h.ID == id {
			s.hooks = slices.Delete(s.hooks, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHookNotFound, id)
}

// Len returns the number of registered hooks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hooks)
}

// Evaluate returns the hooks triggered by ev in registration order and
// removes triggered Once hooks.
func (s *Store) Evaluate(ev observer.ChainEvent) []Hook {
	s.mu.Lock()
	defer s.mu.Unlock()

	var triggered []Hook
	kept := s.hooks[:0]
	for _, h := range s.hooks {
		matched := h.Predicate.Match(ev)
		if matched {
			triggered = append(triggered, *h)
		}
		if !(matched && h.Once) {
			kept = append(kept, h)
		}
	}
	clear(s.hooks[len(kept):])
	s.hooks = kept
	return triggered
}
