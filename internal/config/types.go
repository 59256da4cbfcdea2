// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strings"
	"time"
)

// Chain roles a node can play in the cluster.
const (
	ChainBase      = "base"
	ChainL2        = "l2"
	ChainAuxiliary = "aux"
)

// WorkingDirPlaceholder is expanded in node arguments and environment values.
const WorkingDirPlaceholder = "${WORKING_DIR}"

// AppConfig is the resolved configuration of one devnet process.
type AppConfig struct {
	Version    string `yaml:"-"`
	LogLevel   string `yaml:"logLevel,omitempty"`
	LogService string `yaml:"logService,omitempty"`

	Devnet    *DevnetConfig   `yaml:"devnet"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Control   ControlConfig   `yaml:"control,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// DevnetConfig describes the requested network. It is never mutated once a
// session started.
type DevnetConfig struct {
	WorkingDir string `yaml:"workingDir"`

	BitcoinControllerAutominingDisabled bool          `yaml:"bitcoinControllerAutominingDisabled"`
	BitcoinControllerBlockTime          time.Duration `yaml:"bitcoinControllerBlockTime"`
	EnableSubnetNode                    bool          `yaml:"enableSubnetNode"`
	BootHeight                          uint64        `yaml:"bootHeight"`

	MinerAddress        string `yaml:"minerAddress"`
	MinerMnemonic       string `yaml:"minerMnemonic"`
	MinerDerivationPath string `yaml:"minerDerivationPath"`
	BitcoinNodeImage    string `yaml:"bitcoinNodeImage"`
	StacksNodeImage     string `yaml:"stacksNodeImage"`

	Epochs     EpochConfig    `yaml:"epochs"`
	BitcoinRPC RPCConfig      `yaml:"bitcoinRPC"`
	Observer   ObserverConfig `yaml:"observer"`
	Snapshot   SnapshotConfig `yaml:"snapshot"`
	Nodes      []NodeSpec     `yaml:"nodes,omitempty"`
}

// AutominingEnabled reports whether the base-chain controller mines on its own after boot.
func (d DevnetConfig) AutominingEnabled() bool {
	return !d.BitcoinControllerAutominingDisabled
}

// ActiveNodes returns the nodes started for this network in declaration
// order. Auxiliary nodes only run when the subnet node is enabled.
func (d DevnetConfig) ActiveNodes() []NodeSpec {
	out := make([]NodeSpec, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.Chain == ChainAuxiliary && !d.EnableSubnetNode {
			continue
		}
		out = append(out, n)
	}
	return out
}

// BootChain is the chain whose first block marks boot completion: the L2
// chain when an L2 node runs, otherwise the base chain.
func (d DevnetConfig) BootChain() string {
	for _, n := range d.ActiveNodes() {
		if n.Chain == ChainL2 {
			return ChainL2
		}
	}
	return ChainBase
}

// EpochConfig holds the activation heights that shape chain state.
type EpochConfig struct {
	Epoch20  uint64 `yaml:"epoch_2_0"`
	Epoch205 uint64 `yaml:"epoch_2_05"`
	Epoch21  uint64 `yaml:"epoch_2_1"`
	Epoch22  uint64 `yaml:"epoch_2_2"`
	Epoch23  uint64 `yaml:"epoch_2_3"`
	Epoch24  uint64 `yaml:"epoch_2_4"`
	Epoch25  uint64 `yaml:"epoch_2_5"`
	Epoch30  uint64 `yaml:"epoch_3_0"`
	Epoch31  uint64 `yaml:"epoch_3_1"`
}

// RPCConfig locates the base-chain JSON-RPC endpoint.
type RPCConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ObserverConfig configures the event observer HTTP endpoint nodes post to.
type ObserverConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// SnapshotConfig locates the snapshot cache and the bundled baseline archive.
type SnapshotConfig struct {
	Dir    string `yaml:"dir"`
	Bundle string `yaml:"bundle"`
}

// NodeSpec describes one process of the node cluster.
type NodeSpec struct {
	Name         string            `yaml:"name"`
	Chain        string            `yaml:"chain"`
	Command      string            `yaml:"command"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	RPCURL       string            `yaml:"rpcURL,omitempty"`
	ReadyTimeout time.Duration     `yaml:"readyTimeout,omitempty"`
}

// Expand substitutes the working directory placeholder in args and env.
func (n NodeSpec) Expand(workingDir string) NodeSpec {
	out := n
	out.Args = make([]string, len(n.Args))
	for i, a := range n.Args {
		out.Args[i] = strings.ReplaceAll(a, WorkingDirPlaceholder, workingDir)
	}
	if n.Env != nil {
		out.Env = make(map[string]string, len(n.Env))
		for k, v := range n.Env {
			out.Env[k] = strings.ReplaceAll(v, WorkingDirPlaceholder, workingDir)
		}
	}
	return out
}

// SessionConfig bounds the shutdown protocol.
type SessionConfig struct {
	GracePeriod time.Duration `yaml:"gracePeriod,omitempty"`
	JoinTimeout time.Duration `yaml:"joinTimeout,omitempty"`
}

// ControlConfig configures the optional HTTP control/status server.
type ControlConfig struct {
	ListenAddr   string `yaml:"listenAddr,omitempty"`
	RequestLimit int    `yaml:"requestLimit,omitempty"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	ExporterType string  `yaml:"exporterType,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}
