package internal

// Simplified Snowflake IDs: 64-bit, roughly time-sortable, unique per node.
// https://en.wikipedia.org/wiki/Snowflake_ID

import (
	"errors"
	"sync"
	"time"
)

const (
	customEpoch int64 = 1704067200000 // Jan 1, 2024
	nodeIDBits  uint  = 10
	seqBits     uint  = 12
	MaxNodeID   int64 = -1 ^ (-1 << nodeIDBits)
	maxSeq      int64 = -1 ^ (-1 << seqBits)
)

var ErrInvalidNodeID = errors.New("node id out of range")

type IDGenerator struct {
	mu        sync.Mutex
	lastStamp int64
	nodeID    int64
	seq       int64
	now       func() int64
}

func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, ErrInvalidNodeID
	}

	return &IDGenerator{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

func (g *IDGenerator) NextID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastStamp {
		// clock went backwards
		ts = g.waitAfter(g.lastStamp - 1)
	}
	if ts == g.lastStamp {
		g.seq = (g.seq + 1) & maxSeq
		if g.seq == 0 {
			ts = g.waitAfter(ts)
		}
	} else {
		g.seq = 0
	}
	g.lastStamp = ts

	return (uint64(ts-customEpoch) << (nodeIDBits + seqBits)) |
		(uint64(g.nodeID) << seqBits) |
		uint64(g.seq)
}

func (g *IDGenerator) waitAfter(stamp int64) int64 {
	ts := g.now()
	for ts <= stamp {
		time.Sleep(time.Millisecond)
		ts = g.now()
	}
	return ts
}
