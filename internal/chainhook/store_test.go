// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package chainhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAction struct{}

func (nopAction) Execute(context.Context, Occurrence) error { return nil }

func TestPredicate_Match(t *testing.T) {
	block := observer.BlockEvent{Chain: config.ChainL2, Height: 10, Hash: "0xaa", TxIDs: []string{"0xBEEF"}}
	mempool := observer.MempoolEvent{TxIDs: []string{"0x01"}}

	tests := []struct {
		name string
		p    Predicate
		ev   observer.ChainEvent
		want bool
	}{
		{name: "zero matches block", p: Predicate{}, ev: block, want: true},
		{name: "zero matches mempool", p: Predicate{}, ev: mempool, want: true},
		{name: "scope mismatch", p: Predicate{Scope: ScopeMempool}, ev: block, want: false},
		{name: "chain mismatch", p: Predicate{Chain: config.ChainBase}, ev: block, want: false},
		{name: "below start", p: Predicate{StartHeight: 11}, ev: block, want: false},
		{name: "above end", p: Predicate{EndHeight: 9}, ev: block, want: false},
		{name: "within range", p: Predicate{StartHeight: 10, EndHeight: 10}, ev: block, want: true},
		{name: "tx id case and prefix insensitive", p: Predicate{TxID: "beef"}, ev: block, want: true},
		{name: "tx id missing", p: Predicate{TxID: "0x02"}, ev: mempool, want: false},
		{name: "mempool is l2", p: Predicate{Scope: ScopeMempool, Chain: config.ChainBase}, ev: mempool, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Match(tt.ev))
		})
	}
}

func TestStore_RegisterValidates(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)

	_, err = s.Register(Hook{Action: nopAction{}})
	require.ErrorIs(t, err, ErrInvalidHook)
	_, err = s.Register(Hook{Name: "x"})
	require.ErrorIs(t, err, ErrInvalidHook)
	_, err = s.Register(Hook{Name: "x", Action: nopAction{}, Predicate: Predicate{Scope: "tx"}})
	require.ErrorIs(t, err, ErrInvalidHook)
	_, err = s.Register(Hook{Name: "x", Action: nopAction{}, Predicate: Predicate{StartHeight: 5, EndHeight: 2}})
	require.ErrorIs(t, err, ErrInvalidHook)

	id, err := s.Register(Hook{Name: "x", Action: nopAction{}})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	_, err = s.Register(Hook{ID: id, Name: "y", Action: nopAction{}})
	require.ErrorIs(t, err, ErrInvalidHook)
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.Deregister(id))
	require.ErrorIs(t, s.Deregister(id), ErrHookNotFound)
}

func TestStore_EvaluateOrderAndOnce(t *testing.T) {
	s, err := NewStore(
		Hook{Name: "every-block", Action: nopAction{}, Predicate: Predicate{Scope: ScopeBlock}},
		Hook{Name: "first-l2", Action: nopAction{}, Once: true, Predicate: Predicate{Chain: config.ChainL2}},
		Hook{Name: "mempool", Action: nopAction{}, Predicate: Predicate{Scope: ScopeMempool}},
	)
	require.NoError(t, err)

	ev := observer.BlockEvent{Chain: config.ChainL2, Height: 1}
	got := s.Evaluate(ev)
	require.Len(t, got, 2)
	assert.Equal(t, "every-block", got[0].Name)
	assert.Equal(t, "first-l2", got[1].Name)
	assert.Equal(t, 2, s.Len())

	got = s.Evaluate(ev)
	require.Len(t, got, 1)
	assert.Equal(t, "every-block", got[0].Name)
}

func TestHTTPPost_Execute(t *testing.T) {
	var received Occurrence
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := Hook{ID: "h1", Name: "post"}
	occ := NewOccurrence(h, observer.BlockEvent{Chain: config.ChainBase, Height: 4, Hash: "0x4"})
	action := HTTPPost{URL: srv.URL, Authorization: "Bearer t", Client: srv.Client()}
	require.NoError(t, action.Execute(context.Background(), occ))
	assert.Equal(t, "Bearer t", auth)
	assert.Equal(t, occ, received)
}

func TestHTTPPost_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := HTTPPost{URL: srv.URL, Client: srv.Client()}.Execute(context.Background(), Occurrence{})
	require.ErrorContains(t, err, "502")
}

func TestLogAction_Execute(t *testing.T) {
	var buf bytes.Buffer
	a := LogAction{Logger: zerolog.New(&buf)}
	require.NoError(t, a.Execute(context.Background(), Occurrence{HookName: "n", Kind: "mempool"}))
	assert.Contains(t, buf.String(), `"hook_name":"n"`)
}
