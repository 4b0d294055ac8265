// Package gossip implements the application-level protocol carried over
// p2p frames: handshake, peer exchange, catch-up, and block/transaction
// broadcast. It knows nothing about sockets; it consumes and produces
// JSON frames through the p2p package.
package gossip

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/tx"
)

// Frame is the one JSON shape every message takes, per §6: time and
// snid are always present, every other field is optional and several
// may appear together in a single frame.
type Frame struct {
	Time string `json:"time"`
	SNID string `json:"snid"`

	Msg         string                 `json:"msg,omitempty"`
	Version     []int64                `json:"version,omitempty"`
	Peers       []string               `json:"peers,omitempty"`
	NewTx       *tx.WireTransaction    `json:"new_tx,omitempty"`
	NewBlock    *block.WireBlock       `json:"new_block,omitempty"`
	GetBlocks   []int64                `json:"get_blocks,omitempty"`
	Blocks      []*block.WireBlock     `json:"blocks,omitempty"`
	BlockHeight *int64                 `json:"block_height,omitempty"`
	MemPool     []*tx.WireTransaction  `json:"mem_pool,omitempty"`
}

const (
	msgVersionReq   = "version_req"
	msgDisconnect   = "disconnect"
	msgMemPoolReq   = "mem_pool_req"
)

func (f *Frame) encode() ([]byte, error) {
	return json.Marshal(f)
}

func decodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func newFrame(snid string) *Frame {
	return &Frame{Time: strconv.FormatInt(time.Now().UnixNano(), 10), SNID: snid}
}
