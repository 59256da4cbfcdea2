// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultBlockTime     = 10 * time.Second
	DefaultGracePeriod   = 3 * time.Second
	DefaultJoinTimeout   = 15 * time.Second
	DefaultReadyTimeout  = 2 * time.Minute
	DefaultObserverAddr  = "127.0.0.1:20445"
	DefaultBitcoinRPCURL = "http://127.0.0.1:18443"
	DefaultRequestLimit  = 60

	DefaultMinerMnemonic       = "twice kind fence tip hidden tilt action fragile skin nothing glory cousin green tomorrow spring wrist shed math olympic multiply hip blue scout claw"
	DefaultMinerDerivationPath = "m/44'/5757'/0'/0/0"
	DefaultMinerAddress        = "mqVnk6NPRdhntvfm4hh9vvjiRkFDUuSYsH"
	DefaultBitcoinNodeImage    = "bitcoin/bitcoin:28"
	DefaultStacksNodeImage     = "blockstack/stacks-blockchain:latest"
)

// DefaultEpochs are the activation heights the bundled snapshot was built with.
func DefaultEpochs() EpochConfig {
	return EpochConfig{
		Epoch20:  100,
		Epoch205: 100,
		Epoch21:  101,
		Epoch22:  102,
		Epoch23:  103,
		Epoch24:  104,
		Epoch25:  108,
		Epoch30:  142,
		Epoch31:  144,
	}
}

// DefaultSnapshotDir is the per-user snapshot cache shared by every project.
func DefaultSnapshotDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "stacks-devnet", "snapshot")
	}
	return filepath.Join(os.TempDir(), "stacks-devnet", "snapshot")
}

// DefaultDevnet returns a devnet configuration suitable for a local run.
func DefaultDevnet() *DevnetConfig {
	return &DevnetConfig{
		WorkingDir:                 filepath.Join(".", "tmp", "devnet"),
		BitcoinControllerBlockTime: DefaultBlockTime,
		BootHeight:                 1,
		MinerAddress:               DefaultMinerAddress,
		MinerMnemonic:              DefaultMinerMnemonic,
		MinerDerivationPath:        DefaultMinerDerivationPath,
		BitcoinNodeImage:           DefaultBitcoinNodeImage,
		StacksNodeImage:            DefaultStacksNodeImage,
		Epochs:                     DefaultEpochs(),
		BitcoinRPC: RPCConfig{
			URL:      DefaultBitcoinRPCURL,
			Username: "devnet",
			Password: "devnet",
		},
		Observer: ObserverConfig{ListenAddr: DefaultObserverAddr},
		Snapshot: SnapshotConfig{Dir: DefaultSnapshotDir()},
	}
}

// DefaultNodes is the cluster started when the config lists no nodes.
func DefaultNodes(d *DevnetConfig) []NodeSpec {
	return []NodeSpec{
		{
			Name:    "bitcoin-node",
			Chain:   ChainBase,
			Command: "bitcoind",
			Args: []string{
				"-regtest",
				"-server",
				"-txindex=1",
				"-fallbackfee=0.00001",
				"-datadir=" + WorkingDirPlaceholder + "/data/bitcoin",
				"-rpcuser=" + d.BitcoinRPC.Username,
				"-rpcpassword=" + d.BitcoinRPC.Password,
				"-rpcport=18443",
				"-rpcbind=127.0.0.1",
				"-rpcallowip=127.0.0.1",
			},
			RPCURL:       d.BitcoinRPC.URL,
			ReadyTimeout: DefaultReadyTimeout,
		},
		{
			Name:         "stacks-node",
			Chain:        ChainL2,
			Command:      "stacks-node",
			Args:         []string{"start", "--config", WorkingDirPlaceholder + "/conf/Stacks.toml"},
			RPCURL:       "http://127.0.0.1:20443/v2/info",
			ReadyTimeout: DefaultReadyTimeout,
		},
	}
}

func defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		LogService: "stacks-devnet",
		Devnet:     DefaultDevnet(),
		Session: SessionConfig{
			GracePeriod: DefaultGracePeriod,
			JoinTimeout: DefaultJoinTimeout,
		},
		Control: ControlConfig{RequestLimit: DefaultRequestLimit},
		Telemetry: TelemetryConfig{
			ExporterType: "http",
			SamplingRate: 1.0,
		},
	}
}
