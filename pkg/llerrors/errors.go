package llerrors

import "errors"

var (
	ErrSealed     = errors.New("lazylog: view sealed")
	ErrNotReady   = errors.New("lazylog: shard not ready")
	ErrBadPayload = errors.New("lazylog: payload contains framing byte")
	ErrBadMessage = errors.New("lazylog: malformed message")
	ErrBadPeer    = errors.New("lazylog: invalid peer address")
)
