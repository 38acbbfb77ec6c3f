// Package shard implements the storage role: a GP-indexed record store,
// the stable watermark, and the read protocol that catches the watermark
// up against the sequencer ensemble before serving a range.
package shard

import (
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/sync/semaphore"

	"lazylog/pkg/clock"
	"lazylog/pkg/cluster"
	"lazylog/pkg/wire"
)

// Record is one stored log entry.
type Record struct {
	RecordID string
	Payload  string
}

type Options struct {
	ID         int
	Sequencers []cluster.Peer

	DialTimeout time.Duration
	IOTimeout   time.Duration
	MaxConns    int64
}

func (o *Options) fillDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 2 * time.Second
	}
	if o.MaxConns <= 0 {
		o.MaxConns = 256
	}
}

// Node owns the shard state. The store is a concurrent ordered map keyed
// by global position; entries are written on PUT, and a re-PUT of the same
// position replaces the stored entry.
type Node struct {
	opts Options

	store  *skipmap.OrderedMap[uint64, Record]
	maxPos *clock.AtomicClock
	stable *clock.AtomicClock

	sem *semaphore.Weighted

	puts     atomic.Uint64
	reads    atomic.Uint64
	notReady atomic.Uint64
}

func New(opts Options) *Node {
	opts.fillDefaults()
	return &Node{
		opts:   opts,
		store:  skipmap.New[uint64, Record](),
		maxPos: clock.NewAtomic(0),
		stable: clock.NewAtomic(0),
		sem:    semaphore.NewWeighted(opts.MaxConns),
	}
}

func (n *Node) handlePut(fields []string) string {
	pos := wire.Uint(fields, 1)
	rid := wire.Field(fields, 2)
	payload := wire.Field(fields, 3)

	// re-PUT of a position overwrites; a correct leader only ever
	// re-sends identical content
	n.store.Store(pos, Record{RecordID: rid, Payload: payload})
	n.maxPos.Advance(pos)
	n.puts.Add(1)
	return wire.TagPutOk
}

func (n *Node) handleUpdateStable(fields []string) string {
	n.stable.Advance(wire.Uint(fields, 1))
	return wire.TagOk
}

func (n *Node) handleReadRange(fields []string) string {
	from := wire.Uint(fields, 1)
	to := wire.Uint(fields, 2)
	n.reads.Add(1)

	if n.stable.Val() < to {
		n.catchUpStable()
	}
	if n.stable.Val() < to {
		n.notReady.Add(1)
		return wire.TagNotReady
	}

	var out []string
	count := 0
	for pos := from; pos <= to; pos++ {
		rec, ok := n.store.Load(pos)
		if !ok {
			// gaps are omitted; the client labels them MISSING
			continue
		}
		out = append(out, wire.U64(pos), rec.RecordID, rec.Payload)
		count++
	}
	reply := []string{wire.TagBatchVal, wire.U64(uint64(count))}
	return wire.Join(append(reply, out...)...)
}

// catchUpStable queries the ensemble for a fresher stable watermark. A
// reply from the leader is taken immediately; otherwise the best stable
// seen wins.
func (n *Node) catchUpStable() {
	best := n.stable.Val()
	for _, sq := range n.opts.Sequencers {
		rep, err := wire.Request(sq.Addr(), n.opts.DialTimeout, n.opts.IOTimeout, wire.TagHBQ)
		if err != nil {
			continue
		}
		fields := wire.Split(rep)
		if wire.Field(fields, 0) != wire.TagHBReply {
			continue
		}
		theirStable := wire.Uint(fields, 4)
		if theirStable > best {
			best = theirStable
		}
		if wire.Field(fields, 2) == "1" {
			break
		}
	}
	n.stable.Advance(best)
}

// Status is the admin-surface snapshot of the shard.
type Status struct {
	Role      string `json:"role"`
	ID        int    `json:"id"`
	MaxPos    uint64 `json:"max_pos"`
	Stable    uint64 `json:"stable_gp"`
	StoreSize int    `json:"store_size"`
}

func (n *Node) Status() Status {
	return Status{
		Role:      "shard",
		ID:        n.opts.ID,
		MaxPos:    n.maxPos.Val(),
		Stable:    n.stable.Val(),
		StoreSize: n.store.Len(),
	}
}

func (n *Node) Metrics() map[string]uint64 {
	return map[string]uint64{
		"puts_total":      n.puts.Load(),
		"reads_total":     n.reads.Load(),
		"not_ready_total": n.notReady.Load(),
		"max_pos":         n.maxPos.Val(),
		"stable_gp":       n.stable.Val(),
	}
}
