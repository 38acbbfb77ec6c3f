package shard

import (
	"context"
	"log/slog"
	"net"

	"lazylog/pkg/wire"
)

// Serve accepts connections until ctx ends; one request per connection,
// handler goroutines bounded by the semaphore.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("shard listening", "id", n.opts.ID, "addr", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("accept failed", "error", err)
			continue
		}
		if err := n.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return nil
		}
		go func() {
			defer n.sem.Release(1)
			n.handleConn(conn)
		}()
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()

	line, err := wire.ReadLine(conn, n.opts.IOTimeout)
	if err != nil {
		return
	}
	reply := n.dispatch(line)
	if err := wire.WriteLine(conn, n.opts.IOTimeout, reply); err != nil {
		slog.Debug("reply write failed", "error", err)
	}
}

func (n *Node) dispatch(line string) string {
	fields := wire.Split(line)
	switch wire.Field(fields, 0) {
	case wire.TagPut:
		return n.handlePut(fields)
	case wire.TagUpdateStable:
		return n.handleUpdateStable(fields)
	case wire.TagReadRange:
		return n.handleReadRange(fields)
	default:
		return wire.TagErr
	}
}
