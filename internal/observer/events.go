// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package observer

// ChainEvent is a notification received from a chain node.
type ChainEvent interface {
	chainEvent()
}

// BlockEvent reports a new block on one chain.
type BlockEvent struct {
	Chain  string
	Height uint64
	Hash   string
	TxIDs  []string
}

// TxCount returns the number of transactions in the block.
func (b BlockEvent) TxCount() int { return len(b.TxIDs) }

// MempoolEvent reports transactions entering or leaving the mempool.
type MempoolEvent struct {
	TxIDs   []string
	Dropped bool
	Reason  string
}

func (BlockEvent) chainEvent()   {}
func (MempoolEvent) chainEvent() {}

// Command steers the observer.
type Command int

const (
	// Terminate stops the observer and closes its feed.
	Terminate Command = iota + 1
)

// TrySend delivers cmd without blocking.
func TrySend(ch chan<- Command, cmd Command) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- cmd:
		return true
	default:
		return false
	}
}
