package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Run drives the interactive command loop:
//
//	append <text>
//	readrange <from> <to>
//	quit
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Client interactive. Commands:\n  append <text>\n  readrange <from> <to>\n  quit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit":
			return nil
		case strings.HasPrefix(line, "append "):
			c.replAppend(ctx, out, strings.TrimPrefix(line, "append "))
		case strings.HasPrefix(line, "readrange "):
			c.replReadRange(ctx, out, strings.TrimPrefix(line, "readrange "))
		default:
			fmt.Fprintln(out, "Unknown command")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) replAppend(ctx context.Context, out io.Writer, payload string) {
	rid, err := c.Append(ctx, payload)
	if err != nil {
		fmt.Fprintln(out, "Append FAILED:", err)
		return
	}
	fmt.Fprintf(out, "Append OK record_id=%s\n", rid)
}

func (c *Client) replReadRange(ctx context.Context, out io.Writer, args string) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		fmt.Fprintln(out, "bad args")
		return
	}
	from, err1 := strconv.ParseUint(parts[0], 10, 64)
	to, err2 := strconv.ParseUint(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Fprintln(out, "bad args")
		return
	}

	entries, stale, err := c.ReadRange(ctx, from, to)
	if err != nil {
		fmt.Fprintln(out, "readrange failed:", err)
		return
	}
	for _, sh := range stale {
		fmt.Fprintf(out, "Shard %s NOT_READY for range\n", sh)
	}
	for _, e := range entries {
		if e.Missing {
			fmt.Fprintf(out, "%d | MISSING\n", e.Pos)
		} else {
			fmt.Fprintf(out, "%d | %s | %s\n", e.Pos, e.RecordID, e.Payload)
		}
	}
}
