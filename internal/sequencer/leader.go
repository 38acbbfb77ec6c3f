package sequencer

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"lazylog/pkg/cluster"
	"lazylog/pkg/wire"
)

type assignment struct {
	pos uint64
	rid string
}

// Run consumes election transitions until ctx ends. Promotion refreshes
// next_gp from the ensemble before the leader loops start, so two views
// can never hand out overlapping positions.
func (n *Node) Run(ctx context.Context, transitions <-chan cluster.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			switch tr.Type {
			case cluster.BecomeLeader:
				n.promote(ctx)
			case cluster.StepDown:
				n.stepDown(tr.Leader)
			case cluster.LeaderElected:
				// a follower buffers appends while someone else leads,
				// so the client's all-ACK protocol completes
				n.sealed.Store(false)
			case cluster.LeaderLost:
				n.sealed.Store(true)
			}
		}
	}
}

func (n *Node) promote(ctx context.Context) {
	if n.isLeader.Load() {
		return
	}
	n.view.Next()
	n.recoverNextGP()
	n.isLeader.Store(true)
	n.sealed.Store(false)
	slog.Info("became leader", "id", n.opts.ID, "view", n.view.Val(), "next_gp", n.nextGP.Val()+1)

	go n.orderingLoop(ctx)
	go n.heartbeatLoop(ctx)
}

// stepDown demotes the replica. It stays open as a follower when another
// leader already exists, seals otherwise.
func (n *Node) stepDown(newLeader string) {
	n.isLeader.Store(false)
	n.sealed.Store(newLeader == "")
	slog.Info("stepped down", "id", n.opts.ID, "view", n.view.Val(), "leader", newLeader)
}

// recoverNextGP raises next_gp to the ensemble's last_ordered high-water
// mark. Must run before the first assignment of a new view.
func (n *Node) recoverNextGP() {
	high := n.lastOrdered.Val()
	for _, p := range n.opts.Peers {
		rep, err := wire.Request(p.Addr(), n.opts.DialTimeout, n.opts.IOTimeout, wire.TagHBQ)
		if err != nil {
			slog.Warn("peer watermark query failed", "peer", p.Addr(), "error", err)
			continue
		}
		fields := wire.Split(rep)
		if wire.Field(fields, 0) != wire.TagHBReply {
			continue
		}
		if last := wire.Uint(fields, 3); last > high {
			high = last
		}
	}
	n.lastOrdered.Advance(high)
	n.nextGP.Advance(high)
}

// orderingLoop is the leader's batch loop: snapshot the pending queue,
// assign positions, dispatch to shards, advance the contiguous prefix,
// disseminate the stable watermark. Exits when leadership is lost.
func (n *Node) orderingLoop(ctx context.Context) {
	slog.Info("ordering loop started", "id", n.opts.ID, "view", n.view.Val())
	for n.isLeader.Load() && ctx.Err() == nil {
		batch := n.takeBatch()
		if len(batch) == 0 {
			time.Sleep(n.opts.OrderPeriod)
			continue
		}
		n.batches.Add(1)

		assigned := make([]assignment, 0, len(batch))
		for _, rid := range batch {
			assigned = append(assigned, assignment{pos: n.nextGP.Next(), rid: rid})
		}

		for _, a := range assigned {
			payload := n.takePayload(a.rid)
			shard := n.opts.Shards[int(a.pos%uint64(len(n.opts.Shards)))]
			if n.putToShard(shard, a.pos, a.rid, payload) {
				n.markDurable(a.pos)
			} else {
				// the gap blocks contiguous advance until the shard recovers
				slog.Warn("shard put failed", "pos", a.pos, "shard", shard.Addr())
			}
		}

		if adv, moved := n.advanceContiguous(); moved && adv > n.stable.Val() {
			n.broadcastStable(adv)
		}
		time.Sleep(n.opts.OrderSettle)
	}
	slog.Info("ordering loop ended", "id", n.opts.ID)
}

func (n *Node) putToShard(shard cluster.Peer, pos uint64, rid, payload string) bool {
	msg := wire.Join(wire.TagPut, wire.U64(pos), rid, payload)
	rep, err := wire.Request(shard.Addr(), n.opts.DialTimeout, n.opts.IOTimeout, msg)
	if err != nil {
		return false
	}
	return rep == wire.TagPutOk
}

// broadcastStable sends STABLE_UPDATE to every peer and UPDATESTABLE to
// every shard. Replies are read best-effort; a peer that misses the
// update catches up through HB or a shard's HBQ during a read.
func (n *Node) broadcastStable(s uint64) {
	msg := wire.Join(wire.TagStableUpdate, wire.U64(s))
	for _, p := range n.opts.Peers {
		if _, err := wire.Request(p.Addr(), n.opts.DialTimeout, n.opts.IOTimeout, msg); err != nil {
			slog.Debug("stable update not acked", "peer", p.Addr(), "error", err)
		}
	}
	n.stable.Advance(s)

	msg = wire.Join(wire.TagUpdateStable, wire.U64(s))
	for _, sh := range n.opts.Shards {
		if _, err := wire.Request(sh.Addr(), n.opts.DialTimeout, n.opts.IOTimeout, msg); err != nil {
			slog.Debug("shard stable update failed", "shard", sh.Addr(), "error", err)
		}
	}
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	for n.isLeader.Load() && ctx.Err() == nil {
		msg := wire.Join(wire.TagHB,
			wire.U64(n.view.Val()),
			wire.U64(uint64(n.opts.ID)),
			wire.U64(n.lastOrdered.Val()))
		for _, p := range n.opts.Peers {
			if _, err := wire.Request(p.Addr(), n.opts.DialTimeout, n.opts.IOTimeout, msg); err != nil {
				slog.Debug("heartbeat failed", "peer", p.Addr(), "error", err)
			}
		}
		jitter := n.opts.HBIntervalMax - n.opts.HBIntervalMin
		time.Sleep(n.opts.HBIntervalMin + time.Duration(rand.Int63n(int64(jitter))))
	}
}
