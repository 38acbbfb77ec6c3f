package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// TransitionType marks a leadership change observed in ZooKeeper.
type TransitionType int

const (
	// BecomeLeader: this replica's candidate is the smallest.
	BecomeLeader TransitionType = iota
	// StepDown: this replica was leader and no longer is.
	StepDown
	// LeaderElected: another replica leads; followers unseal and buffer
	// appends so the client's all-ACK protocol can complete.
	LeaderElected
	// LeaderLost: no candidates remain; replicas seal until the next
	// election settles.
	LeaderLost
)

func (t TransitionType) String() string {
	switch t {
	case BecomeLeader:
		return "BECOME_LEADER"
	case StepDown:
		return "STEP_DOWN"
	case LeaderElected:
		return "LEADER_ELECTED"
	case LeaderLost:
		return "LEADER_LOST"
	default:
		return "UNKNOWN"
	}
}

// Transition is delivered to the node when the election outcome changes.
// Leader carries the winning candidate znode when one exists.
type Transition struct {
	Type   TransitionType
	Leader string
}

// Election drives leader election through an ephemeral-sequential znode
// under <root>/election. The candidate with the numerically smallest
// suffix is the leader; the other replicas follow it and are sealed only
// while no candidate exists. Replicas additionally
// register themselves under <root>/replicas.
type Election struct {
	conn         *zk.Conn
	root         string
	pollInterval time.Duration

	// me is the bare name of this replica's candidate znode.
	me string

	leader      bool
	lastLeader  string
	transitions chan Transition
}

// DialElection connects to ZooKeeper and idempotently creates the chroot
// paths. servers: ["zk1:2181", "zk2:2181"].
func DialElection(servers []string, sessionTimeout time.Duration, root string, pollInterval time.Duration) (*Election, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	e := &Election{
		conn:         conn,
		root:         root,
		pollInterval: pollInterval,
		transitions:  make(chan Transition, 8),
	}
	if err := e.waitConnected(10 * time.Second); err != nil {
		conn.Close()
		return nil, err
	}
	for _, p := range []string{root, root + "/election", root + "/replicas"} {
		if err := e.ensurePath(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure path %s: %w", p, err)
		}
	}
	return e, nil
}

func (e *Election) Close() error {
	e.conn.Close()
	return nil
}

// Transitions is consumed by the sequencer node's Run loop.
func (e *Election) Transitions() <-chan Transition {
	return e.transitions
}

func (e *Election) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := e.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = e.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

func (e *Election) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := e.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Join enters the election by creating the ephemeral-sequential candidate.
func (e *Election) Join() error {
	path, err := e.conn.Create(e.root+"/election/n_", nil,
		zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("create election znode: %w", err)
	}
	e.me = path[strings.LastIndex(path, "/")+1:]
	slog.Info("joined election", "znode", e.me)
	return nil
}

// RegisterReplica creates the ephemeral membership znode for this replica.
func (e *Election) RegisterReplica(port int) error {
	path := fmt.Sprintf("%s/replicas/replica-%d", e.root, port)
	_, err := e.conn.Create(path, nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("create replica znode: %w", err)
	}
	slog.Info("registered replica", "znode", path)
	return nil
}

// Replicas lists the currently registered replica znodes.
func (e *Election) Replicas() ([]string, error) {
	children, _, err := e.conn.Children(e.root + "/replicas")
	if err != nil {
		return nil, fmt.Errorf("zk children: %w", err)
	}
	sort.Strings(children)
	return children, nil
}

// Run polls the election children and emits transitions until ctx ends.
// If the session expires, the ephemeral candidate disappears from the
// listing and the next poll drives a StepDown.
func (e *Election) Run(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll()
		}
	}
}

func (e *Election) poll() {
	if e.me == "" {
		return
	}
	children, _, err := e.conn.Children(e.root + "/election")
	if err != nil {
		slog.Warn("election children listing failed", "error", err)
		return
	}
	leader := smallestCandidate(children)
	tr, changed := transitionFor(e.me, e.leader, e.lastLeader, leader)
	e.leader = leader != "" && leader == e.me
	e.lastLeader = leader
	if !changed {
		return
	}
	slog.Info("election transition", "type", tr.Type, "znode", e.me, "leader", leader)
	e.transitions <- tr
}

// transitionFor maps a fresh election listing onto the event to deliver,
// given the previous observation. Reports false when nothing changed.
func transitionFor(me string, wasLeader bool, lastLeader, leader string) (Transition, bool) {
	amLeader := leader != "" && leader == me
	switch {
	case amLeader && !wasLeader:
		return Transition{Type: BecomeLeader, Leader: leader}, true
	case !amLeader && wasLeader:
		return Transition{Type: StepDown, Leader: leader}, true
	case !amLeader && !wasLeader && leader != lastLeader:
		if leader == "" {
			return Transition{Type: LeaderLost}, true
		}
		return Transition{Type: LeaderElected, Leader: leader}, true
	}
	return Transition{}, false
}

// smallestCandidate returns the child with the numerically smallest
// sequence suffix, "" when there are no candidates.
func smallestCandidate(children []string) string {
	best := ""
	bestSeq := uint64(0)
	for _, c := range children {
		seq, ok := candidateSeq(c)
		if !ok {
			continue
		}
		if best == "" || seq < bestSeq {
			best, bestSeq = c, seq
		}
	}
	return best
}

// candidateSeq parses the monotonic suffix of an election child name
// such as "n_0000000042".
func candidateSeq(name string) (uint64, bool) {
	i := strings.LastIndex(name, "_")
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	seq, err := strconv.ParseUint(name[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
