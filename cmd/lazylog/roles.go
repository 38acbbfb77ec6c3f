package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"lazylog/internal/client"
	adminhttp "lazylog/internal/http"
	"lazylog/internal/sequencer"
	"lazylog/internal/shard"
	"lazylog/pkg/cluster"
	"lazylog/pkg/config"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func runSequencer(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 7 {
		return fmt.Errorf("usage: sequencer <id> <port> <peer1>:<p> <peer2>:<p> <shard1>:<p> <shard2>:<p> <shard3>:<p>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad id %q: %w", args[0], err)
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad port %q: %w", args[1], err)
	}
	peers, err := cluster.ParsePeers(args[2:4])
	if err != nil {
		return err
	}
	shards, err := cluster.ParsePeers(args[4:7])
	if err != nil {
		return err
	}

	node := sequencer.New(sequencer.Options{
		ID:            id,
		Peers:         peers,
		Shards:        shards,
		OrderPeriod:   ms(cfg.Sequencer.OrderPeriodMS),
		OrderSettle:   ms(cfg.Sequencer.OrderSettleMS),
		HBIntervalMin: ms(cfg.Sequencer.HBIntervalMinMS),
		HBIntervalMax: ms(cfg.Sequencer.HBIntervalMaxMS),
		HBTimeout:     ms(cfg.Sequencer.HBTimeoutMS),
		DialTimeout:   ms(cfg.Sequencer.DialTimeoutMS),
		IOTimeout:     ms(cfg.Sequencer.IOTimeoutMS),
		MaxConns:      cfg.Sequencer.MaxConns,
	})

	// bind first: a replica that cannot listen is fatal at startup
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("listen :%d: %w", port, err)
	}

	// A failed ZooKeeper connect is not fatal: the replica keeps serving but
	// stays sealed, and no reconnect is attempted for the life of the process.
	var replicas func() ([]string, error)
	transitions := (<-chan cluster.Transition)(nil)
	election, err := cluster.DialElection(cfg.ZooKeeper.Servers, ms(cfg.ZooKeeper.SessionTimeoutMS),
		cfg.ZooKeeper.Root, ms(cfg.ZooKeeper.PollIntervalMS))
	if err != nil {
		slog.Error("zookeeper unavailable, replica stays sealed", "error", err)
	} else {
		defer election.Close()
		if err := election.Join(); err != nil {
			return err
		}
		if err := election.RegisterReplica(port); err != nil {
			slog.Warn("replica registration failed", "error", err)
		}
		go election.Run(ctx)
		transitions = election.Transitions()
		replicas = election.Replicas
	}

	go node.Run(ctx, transitions)

	if cfg.HTTP.Enabled {
		admin := adminhttp.NewServer(strconv.Itoa(port+cfg.HTTP.PortOffset),
			func() any { return node.Status() }, node.Metrics, node.Seal, replicas)
		if err := admin.Start(); err != nil {
			return err
		}
		defer admin.Stop()
	}

	return node.Serve(ctx, ln)
}

func runShard(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 5 {
		return fmt.Errorf("usage: shard <id> <port> <seq1>:<p> <seq2>:<p> <seq3>:<p>")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad id %q: %w", args[0], err)
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad port %q: %w", args[1], err)
	}
	seqs, err := cluster.ParsePeers(args[2:])
	if err != nil {
		return err
	}

	node := shard.New(shard.Options{
		ID:          id,
		Sequencers:  seqs,
		DialTimeout: ms(cfg.Shard.DialTimeoutMS),
		IOTimeout:   ms(cfg.Shard.IOTimeoutMS),
		MaxConns:    cfg.Shard.MaxConns,
	})

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("listen :%d: %w", port, err)
	}

	if cfg.HTTP.Enabled {
		admin := adminhttp.NewServer(strconv.Itoa(port+cfg.HTTP.PortOffset),
			func() any { return node.Status() }, node.Metrics, nil, nil)
		if err := admin.Start(); err != nil {
			return err
		}
		defer admin.Stop()
	}

	return node.Serve(ctx, ln)
}

func runClient(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 7 {
		return fmt.Errorf("usage: client <id> <seq1>:<p> <seq2>:<p> <seq3>:<p> <shard1>:<p> <shard2>:<p> <shard3>:<p>")
	}
	seqs, err := cluster.ParsePeers(args[1:4])
	if err != nil {
		return err
	}
	shards, err := cluster.ParsePeers(args[4:7])
	if err != nil {
		return err
	}

	c := client.New(client.Options{
		ID:           args[0],
		Sequencers:   seqs,
		Shards:       shards,
		RetryBackoff: ms(cfg.Client.RetryBackoffMS),
		DialTimeout:  ms(cfg.Client.DialTimeoutMS),
		IOTimeout:    ms(cfg.Client.IOTimeoutMS),
	})
	return c.Run(ctx, os.Stdin, os.Stdout)
}
