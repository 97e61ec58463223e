// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection opens, closes and currently active connections per role
//   - Errors by kind and backpressure drops
//   - Messages in and out, trades per channel and action
//   - Channel price, volume and subscriber gauges
//   - Harness reconnect attempts
package metrics
