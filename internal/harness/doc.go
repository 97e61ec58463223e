// Package harness drives a pool of simulated exchange clients against a
// server.
//
// Every client runs in its own goroutine: it waits a random ramp delay,
// dials, waits for auth_confirmed, optionally subscribes to one random
// channel, and then trades on its own ticker (traders) or only listens
// (observers). When the connection ends the client backs off with
// jitter plus a linear step per failed attempt and dials again. It never
// gives up; the pool runs until its context is cancelled.
package harness
