// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chainhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/observer"
	"github.com/ManuGH/stacks-devnet/internal/platform/httpx"
	"github.com/rs/zerolog"
)

// Occurrence is the payload handed to an action.
type Occurrence struct {
	HookID   string   `json:"hook_id"`
	HookName string   `json:"hook_name"`
	Kind     string   `json:"kind"`
	Chain    string   `json:"chain,omitempty"`
	Height   uint64   `json:"height,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	TxIDs    []string `json:"tx_ids,omitempty"`
}

// NewOccurrence describes ev triggering h.
func NewOccurrence(h Hook, ev observer.ChainEvent) Occurrence {
	occ := Occurrence{HookID: h.ID, HookName: h.Name}
	switch e := ev.(type) {
	case observer.BlockEvent:
		occ.Kind = string(ScopeBlock)
		occ.Chain = e.Chain
		occ.Height = e.Height
		occ.Hash = e.Hash
		occ.TxIDs = e.TxIDs
	case observer.MempoolEvent:
		occ.Kind = string(ScopeMempool)
		occ.TxIDs = e.TxIDs
	}
	return occ
}

// HTTPPost delivers occurrences as JSON to URL.
type HTTPPost struct {
	URL           string
	Authorization string
	Client        *http.Client
}

const defaultPostTimeout = 10 * time.Second

var tracedClient = httpx.NewClient(defaultPostTimeout)

func (a HTTPPost) Execute(ctx context.Context, occ Occurrence) error {
	body, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("encode occurrence: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.Authorization != "" {
		req.Header.Set("Authorization", a.Authorization)
	}

	client := a.Client
	if client == nil {
		client = tracedClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s: %w", a.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post to %s: unexpected status %d", a.URL, resp.StatusCode)
	}
	return nil
}

// LogAction writes occurrences to a logger.
type LogAction struct {
	Logger zerolog.Logger
}

func (a LogAction) Execute(_ context.Context, occ Occurrence) error {
	a.Logger.Info().
		Str("hook_id", occ.HookID).
		Str("hook_name", occ.HookName).
		Str("kind", occ.Kind).
		Str("chain", occ.Chain).
		Uint64("height", occ.Height).
		Int("txs", len(occ.TxIDs)).
		Msg("chainhook occurrence")
	return nil
}
