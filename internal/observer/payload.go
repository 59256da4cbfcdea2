// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package observer

// Wire formats posted by the nodes. Only the fields the coordinator needs are decoded.

type newBlockPayload struct {
	BlockHeight  uint64 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
	Transactions []struct {
		TxID string `json:"txid"`
	} `json:"transactions"`
}

type newBurnBlockPayload struct {
	BurnBlockHeight uint64 `json:"burn_block_height"`
	BurnBlockHash   string `json:"burn_block_hash"`
}

type dropMempoolPayload struct {
	DroppedTxIDs []string `json:"dropped_txids"`
	Reason       string   `json:"reason"`
}
