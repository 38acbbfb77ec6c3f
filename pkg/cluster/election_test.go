package cluster

import "testing"

func TestCandidateSeq(t *testing.T) {
	cases := []struct {
		name string
		seq  uint64
		ok   bool
	}{
		{"n_0000000000", 0, true},
		{"n_0000000042", 42, true},
		{"_c_12345-n_0000000007", 7, true},
		{"n_", 0, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		seq, ok := candidateSeq(c.name)
		if ok != c.ok || seq != c.seq {
			t.Fatalf("candidateSeq(%q) = (%d, %v), want (%d, %v)", c.name, seq, ok, c.seq, c.ok)
		}
	}
}

func TestSmallestCandidate(t *testing.T) {
	t.Run("numeric order wins over listing order", func(t *testing.T) {
		children := []string{"n_0000000010", "n_0000000002", "n_0000000007"}
		if got := smallestCandidate(children); got != "n_0000000002" {
			t.Fatalf("smallestCandidate = %q", got)
		}
	})

	t.Run("ignores malformed children", func(t *testing.T) {
		children := []string{"junk", "n_0000000005"}
		if got := smallestCandidate(children); got != "n_0000000005" {
			t.Fatalf("smallestCandidate = %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := smallestCandidate(nil); got != "" {
			t.Fatalf("smallestCandidate(nil) = %q", got)
		}
	})
}

func TestTransitionFor(t *testing.T) {
	const me = "n_0000000002"

	cases := []struct {
		name       string
		wasLeader  bool
		lastLeader string
		leader     string
		wantType   TransitionType
		wantChange bool
	}{
		{"win election", false, "", me, BecomeLeader, true},
		{"stay leader", true, me, me, 0, false},
		{"deposed by smaller candidate", true, me, "n_0000000001", StepDown, true},
		{"other replica elected", false, "", "n_0000000001", LeaderElected, true},
		{"leader unchanged for follower", false, "n_0000000001", "n_0000000001", 0, false},
		{"leader swapped for follower", false, "n_0000000001", "n_0000000003", LeaderElected, true},
		{"all candidates gone", false, "n_0000000001", "", LeaderLost, true},
		{"still no leader", false, "", "", 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tr, changed := transitionFor(me, c.wasLeader, c.lastLeader, c.leader)
			if changed != c.wantChange {
				t.Fatalf("changed = %v, want %v", changed, c.wantChange)
			}
			if changed && tr.Type != c.wantType {
				t.Fatalf("type = %v, want %v", tr.Type, c.wantType)
			}
		})
	}
}
