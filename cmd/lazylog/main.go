package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  lazylog sequencer <id> <port> <peer1>:<p> <peer2>:<p> <shard1>:<p> <shard2>:<p> <shard3>:<p>
  lazylog shard <id> <port> <seq1>:<p> <seq2>:<p> <seq3>:<p>
  lazylog client <id> <seq1>:<p> <seq2>:<p> <seq3>:<p> <shard1>:<p> <shard2>:<p> <shard3>:<p>

Environment:
  LAZYLOG_CONFIG  path to a YAML config file (optional)
  ZK_SERVERS      comma-separated ZooKeeper servers (overrides config)`)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := initConfig(os.Getenv("LAZYLOG_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	if env := os.Getenv("ZK_SERVERS"); env != "" {
		cfg.ZooKeeper.Servers = strings.Split(env, ",")
	}

	role, args := os.Args[1], os.Args[2:]
	switch role {
	case "sequencer":
		err = runSequencer(ctx, cfg, args)
	case "shard":
		err = runShard(ctx, cfg, args)
	case "client":
		err = runClient(ctx, cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", role, err)
		os.Exit(1)
	}
}
