// Package sequencer implements one replica of the ordering ensemble:
// admission of client appends into the pending queue, heartbeat and
// stable-state handlers, and — while this replica holds leadership —
// the batching/ordering loop that assigns global positions and drives
// the contiguous durable prefix forward.
package sequencer

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"lazylog/pkg/clock"
	"lazylog/pkg/cluster"
	"lazylog/pkg/wire"
)

type Options struct {
	ID     int
	Peers  []cluster.Peer // other sequencers
	Shards []cluster.Peer

	OrderPeriod   time.Duration // sleep when the pending queue is empty
	OrderSettle   time.Duration // pause after a dispatched batch
	HBIntervalMin time.Duration
	HBIntervalMax time.Duration
	HBTimeout     time.Duration
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	MaxConns      int64
}

func (o *Options) fillDefaults() {
	if o.OrderPeriod <= 0 {
		o.OrderPeriod = 20 * time.Millisecond
	}
	if o.OrderSettle <= 0 {
		o.OrderSettle = 10 * time.Millisecond
	}
	if o.HBIntervalMin <= 0 {
		o.HBIntervalMin = 100 * time.Millisecond
	}
	if o.HBIntervalMax <= o.HBIntervalMin {
		o.HBIntervalMax = o.HBIntervalMin + 200*time.Millisecond
	}
	if o.HBTimeout <= 0 {
		o.HBTimeout = 700 * time.Millisecond
	}
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

// Node owns the whole replica state. Handlers and the leader loops share
// it through this one value; nothing lives in package globals.
type Node struct {
	opts Options

	// pendingMu guards pendingOrder and pendingPayload. pendingOrder keeps
	// insertion order; pendingPayload always has exactly the same keys.
	pendingMu      sync.Mutex
	pendingOrder   []string
	pendingPayload map[string]string

	// durableMu guards durable and the contiguous advance of lastOrdered.
	// durable holds shard-acked positions not yet folded into the prefix.
	durableMu sync.Mutex
	durable   map[uint64]struct{}

	nextGP      *clock.AtomicClock // leader-only writer
	view        *clock.AtomicClock
	lastOrdered *clock.AtomicClock
	stable      *clock.AtomicClock

	isLeader atomic.Bool
	sealed   atomic.Bool

	hbMu       sync.Mutex
	lastHBRecv time.Time

	sem *semaphore.Weighted

	appends atomic.Uint64
	rejects atomic.Uint64
	batches atomic.Uint64
}

// New builds a replica booting as a sealed follower; only an election
// transition may unseal it.
func New(opts Options) *Node {
	opts.fillDefaults()
	n := &Node{
		opts:           opts,
		pendingPayload: make(map[string]string),
		durable:        make(map[uint64]struct{}),
		nextGP:         clock.NewAtomic(0), // Next() hands out 1 first
		view:           clock.NewAtomic(1),
		lastOrdered:    clock.NewAtomic(0),
		stable:         clock.NewAtomic(0),
		sem:            semaphore.NewWeighted(opts.MaxConns),
	}
	n.sealed.Store(true)
	n.hbMu.Lock()
	n.lastHBRecv = time.Now()
	n.hbMu.Unlock()
	return n
}

func (n *Node) handleAppend(fields []string) string {
	rid := wire.Field(fields, 1)
	payload := wire.Field(fields, 3)

	n.pendingMu.Lock()
	if n.sealed.Load() {
		n.pendingMu.Unlock()
		n.rejects.Add(1)
		return wire.TagRetry
	}
	// A record acked here may be buffered on every replica; if views churn
	// it can be dispatched under more than one position. Shards overwrite
	// by position, the client contract is at-least-once.
	n.pendingOrder = append(n.pendingOrder, rid)
	n.pendingPayload[rid] = payload
	n.pendingMu.Unlock()

	n.appends.Add(1)
	return wire.TagAck
}

func (n *Node) handleHB(fields []string) string {
	theirView := wire.Uint(fields, 1)
	theirLast := wire.Uint(fields, 3)

	n.view.Advance(theirView)
	n.lastOrdered.Advance(theirLast)

	n.hbMu.Lock()
	n.lastHBRecv = time.Now()
	n.hbMu.Unlock()

	return wire.TagHBAck
}

func (n *Node) handleHBQ() string {
	lead := "0"
	if n.isLeader.Load() {
		lead = "1"
	}
	return wire.Join(wire.TagHBReply,
		wire.U64(n.view.Val()),
		lead,
		wire.U64(n.lastOrdered.Val()),
		wire.U64(n.stable.Val()))
}

func (n *Node) handleStableUpdate(fields []string) string {
	s := wire.Uint(fields, 1)
	n.lastOrdered.Advance(s)
	n.stable.Advance(s)
	return wire.TagStableAck
}

// takeBatch atomically snapshots and clears the pending queue. Every call
// is one batch window.
func (n *Node) takeBatch() []string {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if len(n.pendingOrder) == 0 {
		return nil
	}
	batch := n.pendingOrder
	n.pendingOrder = nil
	return batch
}

// takePayload looks up and erases the payload for rid. Empty string when
// it raced away, so a lost entry never wedges dispatch.
func (n *Node) takePayload(rid string) string {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	payload, ok := n.pendingPayload[rid]
	if ok {
		delete(n.pendingPayload, rid)
	}
	return payload
}

func (n *Node) markDurable(pos uint64) {
	n.durableMu.Lock()
	n.durable[pos] = struct{}{}
	n.durableMu.Unlock()
}

// advanceContiguous folds the unbroken prefix of durable positions into
// lastOrdered. Reports the new watermark and whether it moved.
func (n *Node) advanceContiguous() (uint64, bool) {
	n.durableMu.Lock()
	defer n.durableMu.Unlock()

	start := n.lastOrdered.Val()
	cur := start
	for {
		if _, ok := n.durable[cur+1]; !ok {
			break
		}
		cur++
	}
	if cur == start {
		return cur, false
	}
	n.lastOrdered.Advance(cur)
	for pos := range n.durable {
		if pos <= cur {
			delete(n.durable, pos)
		}
	}
	return cur, true
}

// LeaderAlive reports whether a heartbeat arrived within the liveness
// window. Observability only; leadership itself lives in ZooKeeper.
func (n *Node) LeaderAlive() bool {
	n.hbMu.Lock()
	defer n.hbMu.Unlock()
	return time.Since(n.lastHBRecv) < n.opts.HBTimeout
}

// Seal closes admission on this replica. Used by the admin surface; the
// election driver is the only caller that ever unseals.
func (n *Node) Seal() {
	n.sealed.Store(true)
}

func (n *Node) pendingDepth() int {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	return len(n.pendingOrder)
}

// Status is the admin-surface snapshot of the replica.
type Status struct {
	Role        string `json:"role"`
	ID          int    `json:"id"`
	View        uint64 `json:"view"`
	Leader      bool   `json:"leader"`
	Sealed      bool   `json:"sealed"`
	NextGP      uint64 `json:"next_gp"`
	LastOrdered uint64 `json:"last_ordered_gp"`
	Stable      uint64 `json:"stable_gp"`
	Pending     int    `json:"pending"`
	LeaderAlive bool   `json:"leader_alive"`
}

func (n *Node) Status() Status {
	return Status{
		Role:        "sequencer",
		ID:          n.opts.ID,
		View:        n.view.Val(),
		Leader:      n.isLeader.Load(),
		Sealed:      n.sealed.Load(),
		NextGP:      n.nextGP.Val() + 1,
		LastOrdered: n.lastOrdered.Val(),
		Stable:      n.stable.Val(),
		Pending:     n.pendingDepth(),
		LeaderAlive: n.LeaderAlive(),
	}
}

func (n *Node) Metrics() map[string]uint64 {
	return map[string]uint64{
		"appends_total":   n.appends.Load(),
		"rejects_total":   n.rejects.Load(),
		"batches_total":   n.batches.Load(),
		"last_ordered_gp": n.lastOrdered.Val(),
		"stable_gp":       n.stable.Val(),
		"view":            n.view.Val(),
	}
}
