// Package exchange implements the broadcast engine: the channel registry,
// shared-secret admission, buy/sell price mutation and the fan-out decision.
//
// The engine knows nothing about sockets. A server transport authenticates a
// peer with Authenticate, registers it with Open and feeds its frames to
// Session.Handle. Channel membership and publishing go through the Fanout the
// transport binds with Bind.
//
// # Atomicity
//
// Each channel has its own mutex. A trade multiplies the price, bumps the
// volume, encodes the info snapshot and publishes it while holding that
// mutex, so concurrent trades on one channel never lose an update and every
// subscriber sees the snapshot produced by the same mutation. Publishing is
// non-blocking; slow peers lose messages instead of stalling the channel.
package exchange
