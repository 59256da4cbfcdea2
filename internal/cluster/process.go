// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cluster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/stacks-devnet/internal/bus"
	"github.com/ManuGH/stacks-devnet/internal/config"
	"github.com/ManuGH/stacks-devnet/internal/event"
	"github.com/ManuGH/stacks-devnet/internal/log"
	"github.com/ManuGH/stacks-devnet/internal/platform/httpx"
	"github.com/ManuGH/stacks-devnet/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	defaultStopGrace    = 10 * time.Second
	defaultKillTimeout  = 5 * time.Second
	defaultProbeEvery   = 500 * time.Millisecond
	defaultProbeTimeout = 2 * time.Second
)

// Probe reports whether a node answers on url.
type Probe func(ctx context.Context, url string) error

// ProcessController runs each node as a local process in its own process group.
type ProcessController struct {
	devnet      config.DevnetConfig
	snapshotDir string
	logger      zerolog.Logger

	probe       Probe
	probeEvery  time.Duration
	stopGrace   time.Duration
	killTimeout time.Duration

	started    atomic.Bool
	closing    atomic.Bool
	mu         sync.Mutex
	running    []*node
	terminated chan struct{}
	termOnce   sync.Once
}

// Option customizes a ProcessController.
type Option func(*ProcessController)

// WithProbe replaces the HTTP readiness probe.
func WithProbe(p Probe, every time.Duration) Option {
	return func(c *ProcessController) {
		c.probe = p
		if every > 0 {
			c.probeEvery = every
		}
	}
}

// WithStopTimeouts sets the SIGTERM grace and the SIGKILL wait.
func WithStopTimeouts(grace, kill time.Duration) Option {
	return func(c *ProcessController) {
		c.stopGrace = grace
		c.killTimeout = kill
	}
}

// NewProcessController returns a controller for the nodes of d.
func NewProcessController(d config.DevnetConfig, snapshotDir string, logger zerolog.Logger, opts ...Option) *ProcessController {
	c := &ProcessController{
		devnet:      d,
		snapshotDir: snapshotDir,
		logger:      log.Component(logger, "cluster"),
		probe:       httpProbe,
		probeEvery:  defaultProbeEvery,
		stopGrace:   defaultStopGrace,
		killTimeout: defaultKillTimeout,
		terminated:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Terminated is closed once every started node is down.
func (c *ProcessController) Terminated() <-chan struct{} { return c.terminated }

var _ StopBudgeter = (*ProcessController)(nil)

// StopBudget is the longest Close can take: nodes stop one after the other,
// each within the SIGTERM grace plus the SIGKILL wait.
func (c *ProcessController) StopBudget() time.Duration {
	return time.Duration(len(c.devnet.ActiveNodes())) * (c.stopGrace + c.killTimeout)
}

// Start launches every active node in order, waits for each to become ready
// and supervises them until terminate fires or ctx is done. A node exiting
// on its own stops the rest and fails the run.
func (c *ProcessController) Start(ctx context.Context, events bus.Producer, terminate <-chan struct{}, noSnapshot bool) error {
	if c.started.Swap(true) {
		return ErrAlreadyStarted
	}
	defer c.Close()

	exited := make(chan *node, len(c.devnet.Nodes))
	for _, spec := range c.devnet.ActiveNodes() {
		n, err := c.launch(spec, events, noSnapshot, exited)
		if errors.Is(err, errStopRequested) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.awaitReady(ctx, n, terminate); err != nil {
			if errors.Is(err, errStopRequested) {
				return nil
			}
			return err
		}
		_ = events.Publish(event.Success(fmt.Sprintf("%s ready", spec.Name)))
	}
	_ = events.Publish(event.Success("All nodes started"))

	select {
	case <-terminate:
		c.logger.Info().Msg("terminate requested")
		return nil
	case <-ctx.Done():
		return nil
	case n := <-exited:
		return n.exitError()
	}
}

// InitializeBaseChainOnly launches the base chain nodes and returns once they
// are ready. Close stops them.
func (c *ProcessController) InitializeBaseChainOnly(ctx context.Context, events bus.Producer, noSnapshot bool) error {
	if c.started.Swap(true) {
		return ErrAlreadyStarted
	}
	exited := make(chan *node, len(c.devnet.Nodes))
	for _, spec := range c.devnet.ActiveNodes() {
		if spec.Chain != config.ChainBase {
			continue
		}
		n, err := c.launch(spec, events, noSnapshot, exited)
		if errors.Is(err, errStopRequested) {
			return nil
		}
		if err != nil {
			c.Close()
			return err
		}
		if err := c.awaitReady(ctx, n, nil); err != nil {
			c.Close()
			return err
		}
	}
	_ = events.Publish(event.Success("Base chain initialized"))
	return nil
}

// Close stops running nodes in reverse start order and closes Terminated.
// It is idempotent. A call made while another Close is stopping nodes waits
// for Terminated.
func (c *ProcessController) Close() error {
	if c.closing.Swap(true) {
		<-c.terminated
		return nil
	}
	c.mu.Lock()
	nodes := c.running
	c.running = nil
	c.mu.Unlock()

	var errs []error
	for _, n := range slices.Backward(nodes) {
		if err := n.stop(c.stopGrace, c.killTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", n.spec.Name, err))
		}
	}
	c.termOnce.Do(func() { close(c.terminated) })
	return errors.Join(errs...)
}

var errStopRequested = errors.New("stop requested")

func (c *ProcessController) launch(spec config.NodeSpec, events bus.Producer, noSnapshot bool, exited chan<- *node) (*node, error) {
	spec = spec.Expand(c.devnet.WorkingDir)
	logFile, err := log.OpenFile(c.devnet.WorkingDir, spec.Name+".log")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	// #nosec G204 -- node commands come from the operator's devnet config
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = c.devnet.WorkingDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = c.environ(spec, noSnapshot)
	procgroup.Set(cmd)

	_ = events.Publish(event.Info(fmt.Sprintf("Starting %s", spec.Name)))

	// Close holds mu while taking the node list, so a node started here is
	// either seen by Close or refused.
	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		_ = logFile.Close()
		return nil, errStopRequested
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		_ = logFile.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	n := &node{spec: spec, cmd: cmd, done: make(chan struct{})}
	c.running = append(c.running, n)
	c.mu.Unlock()

	go func() {
		n.err = cmd.Wait()
		_ = logFile.Close()
		close(n.done)
		exited <- n
	}()

	c.logger.Info().
		Str(log.FieldNode, spec.Name).
		Str(log.FieldChain, spec.Chain).
		Int(log.FieldPID, cmd.Process.Pid).
		Msg("node started")
	return n, nil
}

func (c *ProcessController) environ(spec config.NodeSpec, noSnapshot bool) []string {
	env := os.Environ()
	env = append(env, "DEVNET_WORKING_DIR="+c.devnet.WorkingDir)
	if !noSnapshot && c.snapshotDir != "" {
		env = append(env, "DEVNET_SNAPSHOT_DIR="+c.snapshotDir)
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (c *ProcessController) awaitReady(ctx context.Context, n *node, terminate <-chan struct{}) error {
	if n.spec.RPCURL == "" || c.probe == nil {
		return nil
	}
	timeout := n.spec.ReadyTimeout
	if timeout <= 0 {
		timeout = config.DefaultReadyTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.probeEvery)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
		err := c.probe(probeCtx, n.spec.RPCURL)
		cancel()
		if err == nil {
			return nil
		}
		c.logger.Debug().Err(err).Str(log.FieldNode, n.spec.Name).Msg("node not ready yet")

		select {
		case <-ctx.Done():
			return errStopRequested
		case <-terminate:
			return errStopRequested
		case <-n.done:
			return n.exitError()
		case <-deadline.C:
			return fmt.Errorf("%s: %w after %s", n.spec.Name, ErrNodeNotReady, timeout)
		case <-ticker.C:
		}
	}
}

var probeClient = httpx.NewClient(defaultProbeTimeout)

func httpProbe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := probeClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

type node struct {
	spec config.NodeSpec
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (n *node) exitError() error {
	if n.err != nil {
		return fmt.Errorf("%s: %w: %w", n.spec.Name, ErrNodeExited, n.err)
	}
	return fmt.Errorf("%s: %w", n.spec.Name, ErrNodeExited)
}

func (n *node) stop(grace, killTimeout time.Duration) error {
	select {
	case <-n.done:
		return nil
	default:
	}
	waitCh := make(chan error, 1)
	go func() {
		<-n.done
		waitCh <- n.err
	}()
	err := procgroup.Terminate(n.cmd, waitCh, grace, killTimeout)
	if errors.Is(err, procgroup.ErrKillFailed) {
		return err
	}
	// Exit status of a signalled node is expected.
	return nil
}
