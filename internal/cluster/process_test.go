// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package cluster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shNode(name, chain, script string) config.NodeSpec {
	return config.NodeSpec{Name: name, Chain: chain, Command: "sh", Args: []string{"-c", script}, RPCURL: "http://" + name}
}

func devnet(t *testing.T, nodes ...config.NodeSpec) config.DevnetConfig {
	t.Helper()
	d := config.DefaultDevnet()
	d.WorkingDir = t.TempDir()
	d.Nodes = nodes
	return *d
}

func alwaysReady(context.Context, string) error { return nil }

func newController(d config.DevnetConfig, opts ...Option) *ProcessController {
	opts = append([]Option{
		WithProbe(alwaysReady, 10*time.Millisecond),
		WithStopTimeouts(500*time.Millisecond, 2*time.Second),
	}, opts...)
	return NewProcessController(d, "/snapshots", zerolog.Nop(), opts...)
}

func messages(b *bus.Bus) []string {
	var out []string
	for {
		select {
		case ev := <-b.C():
			if l, ok := ev.(event.Log); ok {
				out = append(out, l.Data.Message)
			}
		default:
			return out
		}
	}
}

func terminated(t *testing.T, c *ProcessController) {
	t.Helper()
	select {
	case <-c.Terminated():
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not report termination")
	}
}

func TestStart_TerminateStopsNodes(t *testing.T) {
	d := devnet(t,
		shNode("bitcoin-node", config.ChainBase, "sleep 30"),
		shNode("stacks-node", config.ChainL2, "sleep 30"),
		shNode("subnet-node", config.ChainAuxiliary, "sleep 30"),
	)
	c := newController(d)
	b := bus.New(64)
	terminate := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background(), b, terminate, false) }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.running) == 2
	}, 3*time.Second, 10*time.Millisecond)
	close(terminate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	terminated(t, c)

	assert.Equal(t, []string{
		"Starting bitcoin-node", "bitcoin-node ready",
		"Starting stacks-node", "stacks-node ready",
		"All nodes started",
	}, messages(b))
	_, err := os.Stat(filepath.Join(d.WorkingDir, "stacks-node.log"))
	require.NoError(t, err)
}

func TestStart_NodeExitFailsRun(t *testing.T) {
	d := devnet(t,
		shNode("bitcoin-node", config.ChainBase, "sleep 30"),
		shNode("stacks-node", config.ChainL2, "sleep 0.1; exit 3"),
	)
	c := newController(d)
	err := c.Start(context.Background(), bus.New(64), make(chan struct{}), false)
	require.ErrorIs(t, err, ErrNodeExited)
	assert.True(t, strings.HasPrefix(err.Error(), "stacks-node: node exited"), err.Error())
	terminated(t, c)
}

func TestStart_MissingBinary(t *testing.T) {
	d := devnet(t, config.NodeSpec{Name: "bitcoin-node", Chain: config.ChainBase, Command: "definitely-not-a-binary-xyz"})
	c := newController(d)
	err := c.Start(context.Background(), bus.New(8), nil, false)
	require.ErrorContains(t, err, "start bitcoin-node")
	terminated(t, c)
	require.ErrorIs(t, c.Start(context.Background(), bus.New(8), nil, false), ErrAlreadyStarted)
}

func TestStart_ReadinessTimeout(t *testing.T) {
	spec := shNode("bitcoin-node", config.ChainBase, "sleep 30")
	spec.ReadyTimeout = 50 * time.Millisecond
	c := newController(devnet(t, spec), WithProbe(func(context.Context, string) error {
		return errors.New("connection refused")
	}, 10*time.Millisecond))

	err := c.Start(context.Background(), bus.New(8), nil, false)
	require.ErrorIs(t, err, ErrNodeNotReady)
	terminated(t, c)
}

func TestStart_TerminateDuringReadiness(t *testing.T) {
	c := newController(devnet(t, shNode("bitcoin-node", config.ChainBase, "sleep 30")),
		WithProbe(func(context.Context, string) error { return errors.New("not yet") }, 10*time.Millisecond))
	terminate := make(chan struct{})
	close(terminate)
	require.NoError(t, c.Start(context.Background(), bus.New(8), terminate, false))
	terminated(t, c)
}

func TestStart_SnapshotEnvironment(t *testing.T) {
	tests := []struct {
		name       string
		noSnapshot bool
		want       string
	}{
		{name: "snapshot enabled", want: "/snapshots"},
		{name: "snapshot disabled", noSnapshot: true, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := devnet(t, shNode("bitcoin-node", config.ChainBase,
				`printf '%s' "$DEVNET_SNAPSHOT_DIR" > snap.txt; sleep 30`))
			c := newController(d)
			terminate := make(chan struct{})
			done := make(chan error, 1)
			go func() { done <- c.Start(context.Background(), bus.New(8), terminate, tt.noSnapshot) }()

			path := filepath.Join(d.WorkingDir, "snap.txt")
			require.Eventually(t, func() bool {
				_, err := os.Stat(path)
				return err == nil
			}, 3*time.Second, 10*time.Millisecond)
			// The file is created before printf writes to it.
			time.Sleep(50 * time.Millisecond)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))

			close(terminate)
			require.NoError(t, <-done)
		})
	}
}

func TestInitializeBaseChainOnly(t *testing.T) {
	d := devnet(t,
		shNode("bitcoin-node", config.ChainBase, "sleep 30"),
		shNode("stacks-node", config.ChainL2, "sleep 30"),
	)
	c := newController(d)
	b := bus.New(16)
	require.NoError(t, c.InitializeBaseChainOnly(context.Background(), b, true))

	c.mu.Lock()
	require.Len(t, c.running, 1)
	assert.Equal(t, "bitcoin-node", c.running[0].spec.Name)
	c.mu.Unlock()
	assert.Contains(t, messages(b), "Base chain initialized")

	select {
	case <-c.Terminated():
		t.Fatal("terminated before Close")
	default:
	}
	require.NoError(t, c.Close())
	terminated(t, c)
	require.NoError(t, c.Close())
}

func TestClose_WaitsForStopInFlight(t *testing.T) {
	d := devnet(t, shNode("bitcoin-node", config.ChainBase, "trap '' TERM; touch ready; sleep 30"))
	started := func(context.Context, string) error {
		_, err := os.Stat(filepath.Join(d.WorkingDir, "ready"))
		return err
	}
	c := newController(d,
		WithProbe(started, 10*time.Millisecond),
		WithStopTimeouts(300*time.Millisecond, 2*time.Second))
	require.NoError(t, c.InitializeBaseChainOnly(context.Background(), bus.New(16), true))

	c.mu.Lock()
	pid := c.running[0].cmd.Process.Pid
	c.mu.Unlock()

	first := make(chan error, 1)
	go func() { first <- c.Close() }()
	require.Eventually(t, c.closing.Load, time.Second, 5*time.Millisecond)

	// The node ignores SIGTERM, so it is still alive until the SIGKILL.
	require.NoError(t, c.Close())
	terminated(t, c)
	require.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "node must be gone when Close returns")
	require.NoError(t, <-first)
}

func TestClose_RefusesLaterLaunch(t *testing.T) {
	c := newController(devnet(t, shNode("bitcoin-node", config.ChainBase, "sleep 30")))
	require.NoError(t, c.Close())
	require.NoError(t, c.InitializeBaseChainOnly(context.Background(), bus.New(8), true))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.running)
}

func TestStopBudget(t *testing.T) {
	d := devnet(t,
		shNode("bitcoin-node", config.ChainBase, "sleep 30"),
		shNode("stacks-node", config.ChainL2, "sleep 30"),
		shNode("subnet-node", config.ChainAuxiliary, "sleep 30"),
	)
	c := newController(d, WithStopTimeouts(time.Second, 2*time.Second))
	assert.Equal(t, 6*time.Second, c.StopBudget())
}
