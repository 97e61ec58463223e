// Package stats implements the periodic counter rollup shared by the server
// and the load harness.
//
// Increments land in the current window under a read lock; every interval the
// window is swapped out under the write lock, rendered and discarded. Gauges
// (active connections, per-channel subscribers, price, volume) are not reset.
package stats
