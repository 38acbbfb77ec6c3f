package cluster

import (
	"fmt"
	"net"
	"strconv"

	"lazylog/pkg/llerrors"
)

// Peer is one remote node address (sequencer or shard).
type Peer struct {
	Host string
	Port int
}

func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Peer) String() string {
	return p.Addr()
}

// ParsePeer parses "host:port".
func ParsePeer(s string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Peer{}, fmt.Errorf("%w: %q", llerrors.ErrBadPeer, s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Peer{}, fmt.Errorf("%w: %q", llerrors.ErrBadPeer, s)
	}
	return Peer{Host: host, Port: port}, nil
}

// ParsePeers parses a list of "host:port" arguments.
func ParsePeers(args []string) ([]Peer, error) {
	peers := make([]Peer, 0, len(args))
	for _, a := range args {
		p, err := ParsePeer(a)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}
