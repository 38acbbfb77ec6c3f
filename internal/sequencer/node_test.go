package sequencer

import (
	"strings"
	"testing"

	"lazylog/pkg/wire"
)

func testNode() *Node {
	return New(Options{ID: 1})
}

func TestAppendAdmission(t *testing.T) {
	t.Run("sealed replica rejects", func(t *testing.T) {
		n := testNode()
		if rep := n.dispatch("APPEND|r1|7|alpha"); rep != wire.TagRetry {
			t.Fatalf("sealed append reply = %q, want RETRY", rep)
		}
		if depth := n.pendingDepth(); depth != 0 {
			t.Fatalf("sealed append enqueued %d entries", depth)
		}
	})

	t.Run("unsealed replica buffers in order", func(t *testing.T) {
		n := testNode()
		n.sealed.Store(false)

		for _, rid := range []string{"r1", "r2", "r3"} {
			if rep := n.dispatch("APPEND|" + rid + "|7|payload-" + rid); rep != wire.TagAck {
				t.Fatalf("append %s reply = %q, want ACK", rid, rep)
			}
		}

		n.pendingMu.Lock()
		defer n.pendingMu.Unlock()
		if len(n.pendingOrder) != 3 || len(n.pendingPayload) != 3 {
			t.Fatalf("pending sizes = %d/%d, want 3/3", len(n.pendingOrder), len(n.pendingPayload))
		}
		for i, want := range []string{"r1", "r2", "r3"} {
			if n.pendingOrder[i] != want {
				t.Fatalf("pendingOrder[%d] = %q, want %q", i, n.pendingOrder[i], want)
			}
			if _, ok := n.pendingPayload[want]; !ok {
				t.Fatalf("pendingPayload missing %q", want)
			}
		}
	})
}

func TestHBHandler(t *testing.T) {
	n := testNode()

	if rep := n.dispatch("HB|3|2|17"); rep != wire.TagHBAck {
		t.Fatalf("HB reply = %q", rep)
	}
	if n.view.Val() != 3 {
		t.Fatalf("view = %d, want 3", n.view.Val())
	}
	if n.lastOrdered.Val() != 17 {
		t.Fatalf("lastOrdered = %d, want 17", n.lastOrdered.Val())
	}

	// a stale heartbeat never regresses the watermarks
	if rep := n.dispatch("HB|2|2|9"); rep != wire.TagHBAck {
		t.Fatalf("HB reply = %q", rep)
	}
	if n.view.Val() != 3 || n.lastOrdered.Val() != 17 {
		t.Fatalf("stale HB regressed state: view=%d last=%d", n.view.Val(), n.lastOrdered.Val())
	}
}

func TestHBQReply(t *testing.T) {
	n := testNode()
	n.view.Set(4)
	n.lastOrdered.Set(12)
	n.stable.Set(10)

	rep := n.dispatch("HBQ")
	if rep != "HB_REPLY|4|0|12|10" {
		t.Fatalf("HBQ reply = %q", rep)
	}

	n.isLeader.Store(true)
	rep = n.dispatch("HBQ")
	if rep != "HB_REPLY|4|1|12|10" {
		t.Fatalf("leader HBQ reply = %q", rep)
	}
}

func TestStableUpdateMonotonic(t *testing.T) {
	n := testNode()

	if rep := n.dispatch("STABLE_UPDATE|9"); rep != wire.TagStableAck {
		t.Fatalf("STABLE_UPDATE reply = %q", rep)
	}
	if n.stable.Val() != 9 || n.lastOrdered.Val() != 9 {
		t.Fatalf("stable=%d last=%d, want 9/9", n.stable.Val(), n.lastOrdered.Val())
	}

	// regression attempt is ignored
	n.dispatch("STABLE_UPDATE|4")
	if n.stable.Val() != 9 || n.lastOrdered.Val() != 9 {
		t.Fatalf("stable regressed: stable=%d last=%d", n.stable.Val(), n.lastOrdered.Val())
	}
}

func TestGCAndUnknown(t *testing.T) {
	n := testNode()
	if rep := n.dispatch("GC|5"); rep != wire.TagGCOk {
		t.Fatalf("GC reply = %q", rep)
	}
	if rep := n.dispatch("BOGUS|1"); rep != wire.ReplyErrUnknown {
		t.Fatalf("unknown tag reply = %q", rep)
	}
}

func TestTakeBatch(t *testing.T) {
	n := testNode()
	n.sealed.Store(false)

	if batch := n.takeBatch(); batch != nil {
		t.Fatalf("empty queue batch = %v", batch)
	}

	n.dispatch("APPEND|a|1|pa")
	n.dispatch("APPEND|b|1|pb")

	batch := n.takeBatch()
	if strings.Join(batch, ",") != "a,b" {
		t.Fatalf("batch = %v", batch)
	}
	if again := n.takeBatch(); again != nil {
		t.Fatalf("second snapshot not empty: %v", again)
	}

	// payloads remain until dispatch consumes them
	if p := n.takePayload("a"); p != "pa" {
		t.Fatalf("takePayload(a) = %q", p)
	}
	if p := n.takePayload("a"); p != "" {
		t.Fatalf("second takePayload(a) = %q, want empty", p)
	}
}

func TestAdvanceContiguous(t *testing.T) {
	t.Run("unbroken prefix folds", func(t *testing.T) {
		n := testNode()
		for _, pos := range []uint64{1, 2, 3} {
			n.markDurable(pos)
		}
		adv, moved := n.advanceContiguous()
		if !moved || adv != 3 {
			t.Fatalf("advance = (%d, %v), want (3, true)", adv, moved)
		}
		if n.lastOrdered.Val() != 3 {
			t.Fatalf("lastOrdered = %d", n.lastOrdered.Val())
		}
		n.durableMu.Lock()
		defer n.durableMu.Unlock()
		if len(n.durable) != 0 {
			t.Fatalf("durable not drained: %v", n.durable)
		}
	})

	t.Run("gap blocks advance", func(t *testing.T) {
		n := testNode()
		n.markDurable(1)
		n.markDurable(3)

		adv, moved := n.advanceContiguous()
		if !moved || adv != 1 {
			t.Fatalf("advance = (%d, %v), want (1, true)", adv, moved)
		}

		// pos 3 stays pending until 2 becomes durable
		n.durableMu.Lock()
		_, ok := n.durable[3]
		n.durableMu.Unlock()
		if !ok {
			t.Fatal("pos 3 dropped while blocked by the gap")
		}

		n.markDurable(2)
		adv, moved = n.advanceContiguous()
		if !moved || adv != 3 {
			t.Fatalf("advance after gap fill = (%d, %v), want (3, true)", adv, moved)
		}
	})

	t.Run("nothing durable", func(t *testing.T) {
		n := testNode()
		if _, moved := n.advanceContiguous(); moved {
			t.Fatal("advance moved with empty durable set")
		}
	})
}

func TestStatusInvariant(t *testing.T) {
	// stable <= last_ordered < next_gp on the leader
	n := testNode()
	n.nextGP.Set(10)
	n.lastOrdered.Set(8)
	n.stable.Set(5)

	st := n.Status()
	if !(st.Stable <= st.LastOrdered && st.LastOrdered < st.NextGP) {
		t.Fatalf("invariant violated: stable=%d last=%d next=%d", st.Stable, st.LastOrdered, st.NextGP)
	}
}
