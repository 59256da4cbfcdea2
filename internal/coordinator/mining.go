// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/metrics"
	"github.com/ManuGH/stacks-devnet/internal/mining"
	"github.com/ManuGH/stacks-devnet/internal/platform/httpx"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BlockProducer mines base-chain blocks on request.
type BlockProducer interface {
	MineBlocks(ctx context.Context, n int) ([]string, error)
}

// ErrNoProducer is reported when mining is requested without a producer.
var ErrNoProducer = errors.New("no block producer configured")

// miner drives block production from mining commands.
type miner struct {
	commands <-chan mining.Command
	producer BlockProducer
	events   bus.Producer
	interval time.Duration
	logger   zerolog.Logger
}

func (m *miner) run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(m.interval), 1)
	active := false

	for {
		if !active {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-m.commands:
				active = m.apply(ctx, cmd, active)
			}
			continue
		}

		r := limiter.Reserve()
		timer := time.NewTimer(r.Delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.Cancel()
			return nil
		case cmd := <-m.commands:
			timer.Stop()
			r.Cancel()
			active = m.apply(ctx, cmd, active)
		case <-timer.C:
			m.mine(ctx)
		}
	}
}

func (m *miner) apply(ctx context.Context, cmd mining.Command, active bool) bool {
	m.logger.Debug().Str("command", cmd.String()).Bool("active", active).Msg("mining command")
	switch cmd {
	case mining.Start:
		if !active {
			m.logger.Info().Dur("interval", m.interval).Msg("automining started")
		}
		return true
	case mining.Pause:
		if active {
			m.logger.Info().Msg("automining paused")
		}
		return false
	case mining.Mine:
		m.mine(ctx)
		return active
	default:
		return active
	}
}

func (m *miner) mine(ctx context.Context) {
	if m.producer == nil {
		metrics.IncBlocksMined("error")
		_ = m.events.Publish(event.Warning("Unable to mine block: " + ErrNoProducer.Error()))
		return
	}
	hashes, err := m.producer.MineBlocks(ctx, 1)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.IncBlocksMined("error")
		_ = m.events.Publish(event.Warning(fmt.Sprintf("Unable to mine block: %v", err)))
		return
	}
	metrics.IncBlocksMined("ok")
	m.logger.Debug().Strs("hashes", hashes).Msg("block mined")
}

// RPCProducer mines blocks through the base-chain node's JSON-RPC interface.
type RPCProducer struct {
	rpc     config.RPCConfig
	address string
	client  *http.Client
}

// NewRPCProducer returns a producer paying block rewards to address.
// A nil client uses a traced client with a short timeout.
func NewRPCProducer(rpc config.RPCConfig, address string, client *http.Client) *RPCProducer {
	if client == nil {
		client = httpx.NewClient(15 * time.Second)
	}
	return &RPCProducer{rpc: rpc, address: address, client: client}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MineBlocks calls generatetoaddress and returns the new block hashes.
func (p *RPCProducer) MineBlocks(ctx context.Context, n int) ([]string, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "stacks-devnet",
		Method:  "generatetoaddress",
		Params:  []any{n, p.address},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpc.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.rpc.Username != "" {
		req.SetBasicAuth(p.rpc.Username, p.rpc.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generatetoaddress: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("generatetoaddress: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("generatetoaddress: rpc error %d: %s", out.Error.Code, out.Error.Message)
	}
	var hashes []string
	if err := json.Unmarshal(out.Result, &hashes); err != nil {
		return nil, fmt.Errorf("generatetoaddress: decode result: %w", err)
	}
	return hashes, nil
}
