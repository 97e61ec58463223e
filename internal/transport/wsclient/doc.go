// Package wsclient is the gorilla/websocket client transport used by the
// load harness.
//
// A Client carries the shared secret in the Sec-WebSocket-Protocol header.
// Inbound frames are timestamped and queued on Messages; the channel is
// closed when the read loop ends. A refused handshake (HTTP 401) is reported
// as protocol.ErrAuthRejected.
package wsclient
