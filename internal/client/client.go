// Package client implements the thin log client: append-to-all-until-all-ACK
// against the sequencer ensemble and read-range fan-out across shards.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lazylog/pkg/cluster"
	"lazylog/pkg/llerrors"
	"lazylog/pkg/wire"
)

type Options struct {
	// ID is the client identity used in record ids; a random one is
	// generated when empty.
	ID         string
	Sequencers []cluster.Peer
	Shards     []cluster.Peer

	RetryBackoff time.Duration
	DialTimeout  time.Duration
	IOTimeout    time.Duration
}

func (o *Options) fillDefaults() {
	if o.ID == "" {
		o.ID = uuid.NewString()[:8]
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 2 * time.Second
	}
}

type Client struct {
	opts    Options
	counter atomic.Uint64
}

func New(opts Options) *Client {
	opts.fillDefaults()
	return &Client{opts: opts}
}

func (c *Client) ID() string {
	return c.opts.ID
}

// RecordID builds a globally unique id: client id, wall-clock ms, local
// counter. Uniqueness per session is the client's responsibility.
func (c *Client) RecordID() string {
	return fmt.Sprintf("%s-%d-%d", c.opts.ID, time.Now().UnixMilli(), c.counter.Add(1))
}

// Append submits payload to every sequencer and retries in rounds until
// all of them have acked, so the buffers survive leadership churn. RETRY
// replies (sealed replicas) and transport failures are treated the same.
func (c *Client) Append(ctx context.Context, payload string) (string, error) {
	if strings.ContainsAny(payload, "|\n") {
		return "", llerrors.ErrBadPayload
	}
	rid := c.RecordID()
	msg := wire.Join(wire.TagAppend, rid, c.opts.ID, payload)

	acked := make([]bool, len(c.opts.Sequencers))
	for {
		remaining := 0
		for i, sq := range c.opts.Sequencers {
			if acked[i] {
				continue
			}
			rep, err := wire.Request(sq.Addr(), c.opts.DialTimeout, c.opts.IOTimeout, msg)
			if err == nil && rep == wire.TagAck {
				acked[i] = true
				continue
			}
			remaining++
		}
		if remaining == 0 {
			return rid, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.opts.RetryBackoff):
		}
	}
}

// Entry is one assembled position of a read range. Missing marks a
// position no shard returned.
type Entry struct {
	Pos      uint64
	RecordID string
	Payload  string
	Missing  bool
}

// ReadRange fans READRANGE out to every shard and assembles the union in
// position order. The second return value lists shards that answered
// NOT_READY (their watermark had not caught up) or could not be reached.
func (c *Client) ReadRange(ctx context.Context, from, to uint64) ([]Entry, []string, error) {
	if to < from {
		return nil, nil, fmt.Errorf("%w: readrange %d..%d", llerrors.ErrBadMessage, from, to)
	}
	req := wire.Join(wire.TagReadRange, wire.U64(from), wire.U64(to))

	results := make(map[uint64]Record, to-from+1)
	var stale []string
	for _, sh := range c.opts.Shards {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		rep, err := wire.Request(sh.Addr(), c.opts.DialTimeout, c.opts.IOTimeout, req)
		if err != nil {
			stale = append(stale, sh.Addr())
			continue
		}
		if rep == wire.TagNotReady {
			stale = append(stale, sh.Addr())
			continue
		}
		for _, e := range parseBatchVal(rep) {
			results[e.Pos] = Record{RecordID: e.RecordID, Payload: e.Payload}
		}
	}

	entries := make([]Entry, 0, to-from+1)
	for pos := from; pos <= to; pos++ {
		if rec, ok := results[pos]; ok {
			entries = append(entries, Entry{Pos: pos, RecordID: rec.RecordID, Payload: rec.Payload})
		} else {
			entries = append(entries, Entry{Pos: pos, Missing: true})
		}
	}
	return entries, stale, nil
}

// Record pairs the client-visible parts of a stored entry.
type Record struct {
	RecordID string
	Payload  string
}

// parseBatchVal decodes BATCHVAL|n|pos|rid|payload|... Truncated replies
// yield the prefix that parsed.
func parseBatchVal(line string) []Entry {
	fields := wire.Split(line)
	if wire.Field(fields, 0) != wire.TagBatchVal {
		return nil
	}
	n := int(wire.Uint(fields, 1))
	out := make([]Entry, 0, n)
	idx := 2
	for i := 0; i < n; i++ {
		if idx+2 >= len(fields) {
			break
		}
		out = append(out, Entry{
			Pos:      wire.Uint(fields, idx),
			RecordID: wire.Field(fields, idx+1),
			Payload:  wire.Field(fields, idx+2),
		})
		idx += 3
	}
	return out
}
