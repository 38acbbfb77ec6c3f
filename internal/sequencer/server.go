package sequencer

import (
	"context"
	"log/slog"
	"net"

	"lazylog/pkg/wire"
)

// Serve accepts connections until ctx ends. Each connection carries a
// single request line and is closed after the reply; the semaphore bounds
// how many handler goroutines run at once.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("sequencer listening", "id", n.opts.ID, "addr", ln.Addr())
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
	case wire.TagAppend:
		return n.handleAppend(fields)
	case wire.TagHB:
		return n.handleHB(fields)
	case wire.TagHBQ:
		return n.handleHBQ()
	case wire.TagStableUpdate:
		return n.handleStableUpdate(fields)
	case wire.TagGC:
		// reserved; log truncation is not part of the core
		return wire.TagGCOk
	default:
		return wire.ReplyErrUnknown
	}
}
