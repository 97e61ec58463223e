// Package loopback connects the load harness to an in-process exchange
// engine over buffered channels instead of sockets. It is used for dry runs
// and end-to-end tests, and can mimic transports whose publishes echo to the
// sender.
package loopback
