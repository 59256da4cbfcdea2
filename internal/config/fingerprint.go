// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

// Fingerprint is the subset of the devnet configuration that determines the
// chain state a snapshot was built from. Two configs with equal fingerprints
// can share a snapshot.
type Fingerprint struct {
	Epochs              EpochConfig `yaml:"epochs"`
	MinerMnemonic       string      `yaml:"minerMnemonic"`
	MinerDerivationPath string      `yaml:"minerDerivationPath"`
	BitcoinNodeImage    string      `yaml:"bitcoinNodeImage"`
	StacksNodeImage     string      `yaml:"stacksNodeImage"`
}

// Fingerprint extracts the snapshot-relevant fields.
func (d DevnetConfig) Fingerprint() Fingerprint {
	return Fingerprint{
		Epochs:              d.Epochs,
		MinerMnemonic:       d.MinerMnemonic,
		MinerDerivationPath: d.MinerDerivationPath,
		BitcoinNodeImage:    d.BitcoinNodeImage,
		StacksNodeImage:     d.StacksNodeImage,
	}
}

// DefaultFingerprint describes the configuration of the bundled snapshot.
func DefaultFingerprint() Fingerprint {
	return DefaultDevnet().Fingerprint()
}
