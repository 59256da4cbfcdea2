// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/mining"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProducer struct {
	mined chan struct{}
	err   error
}

func (p *countingProducer) MineBlocks(context.Context, int) ([]string, error) {
	p.mined <- struct{}{}
	if p.err != nil {
		return nil, p.err
	}
	return []string{"0x00"}, nil
}

func runMiner(t *testing.T, m *miner) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.run(ctx) }()
	return cancel, done
}

func expectMined(t *testing.T, p *countingProducer) {
	t.Helper()
	select {
	case <-p.mined:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a block to be mined")
	}
}

func expectIdle(t *testing.T, p *countingProducer, d time.Duration) {
	t.Helper()
	select {
	case <-p.mined:
		t.Fatal("unexpected block")
	case <-time.After(d):
	}
}

func TestMiner_StartPauseMine(t *testing.T) {
	cmds := make(chan mining.Command, 1)
	p := &countingProducer{mined: make(chan struct{}, 16)}
	m := &miner{commands: cmds, producer: p, events: bus.New(8), interval: 20 * time.Millisecond, logger: zerolog.Nop()}
	cancel, done := runMiner(t, m)

	expectIdle(t, p, 60*time.Millisecond)

	cmds <- mining.Start
	expectMined(t, p)
	expectMined(t, p)

	cmds <- mining.Pause
	// Drain a block that raced with the pause.
	time.Sleep(40 * time.Millisecond)
	for len(p.mined) > 0 {
		<-p.mined
	}
	expectIdle(t, p, 80*time.Millisecond)

	cmds <- mining.Mine
	expectMined(t, p)
	expectIdle(t, p, 60*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMiner_FailureIsWarning(t *testing.T) {
	cmds := make(chan mining.Command, 1)
	b := bus.New(8)
	p := &countingProducer{mined: make(chan struct{}, 1), err: errors.New("rpc down")}
	m := &miner{commands: cmds, producer: p, events: b, interval: time.Hour, logger: zerolog.Nop()}
	cancel, done := runMiner(t, m)
	defer func() {
		cancel()
		<-done
	}()

	cmds <- mining.Mine
	expectMined(t, p)
	l := receive(t, b).(event.Log)
	assert.Equal(t, event.LevelWarning, l.Data.Level)
	assert.Contains(t, l.Data.Message, "rpc down")
}

func TestMiner_NoProducer(t *testing.T) {
	b := bus.New(8)
	m := &miner{events: b, interval: time.Hour, logger: zerolog.Nop()}
	m.mine(context.Background())
	l := receive(t, b).(event.Log)
	assert.Contains(t, l.Data.Message, ErrNoProducer.Error())
}

func TestRPCProducer_MineBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "devnet", user)
		assert.Equal(t, "secret", pass)

		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "generatetoaddress", req.Method)
		if assert.Len(t, req.Params, 2) {
			assert.EqualValues(t, 1, req.Params[0])
			assert.Equal(t, "miner", req.Params[1])
		}
		_, _ = w.Write([]byte(`{"result":["0xaa"],"error":null,"id":"stacks-devnet"}`))
	}))
	defer srv.Close()

	p := NewRPCProducer(config.RPCConfig{URL: srv.URL, Username: "devnet", Password: "secret"}, "miner", srv.Client())
	hashes, err := p.MineBlocks(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaa"}, hashes)
}

func TestRPCProducer_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"result":null,"error":{"code":-18,"message":"wallet not loaded"}}`))
	}))
	defer srv.Close()

	p := NewRPCProducer(config.RPCConfig{URL: srv.URL}, "miner", srv.Client())
	_, err := p.MineBlocks(context.Background(), 1)
	require.ErrorContains(t, err, "wallet not loaded")
}
