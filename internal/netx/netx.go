// Package netx wraps TCP connections accepted by the server so that handlers
// can read the connection's UUID, its byte counters and its TCP_INFO.
package netx

import (
	"context"
	"net"
)

type connInfoKey struct{}

// WithConnInfo returns a copy of ctx carrying the ConnInfo for c. It is meant
// to be used as an http.Server's ConnContext. Connections that do not
// support ConnInfo leave ctx unchanged.
func WithConnInfo(ctx context.Context, c net.Conn) context.Context {
	ci, ok := asConnInfo(c)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, connInfoKey{}, ci)
}

// FromContext returns the ConnInfo saved by WithConnInfo, if any.
func FromContext(ctx context.Context) (ConnInfo, bool) {
	ci, ok := ctx.Value(connInfoKey{}).(ConnInfo)
	return ci, ok
}
