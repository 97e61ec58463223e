// Package wsserver is the gorilla/websocket server transport for the
// exchange engine.
//
// ServeHTTP refuses the upgrade with 401 unless the "token" subprotocol
// carries the shared secret. Each accepted connection gets a reader running
// on the HTTP handler goroutine and a writer goroutine draining a bounded
// send buffer; a full buffer drops the frame. Channel publishes skip the
// originating connection.
package wsserver
