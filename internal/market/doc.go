// Package market holds the instrument catalog traded on the exchange.
//
// The catalog is injected configuration: a fixed, ordered list of symbols
// with their opening prices. Each symbol becomes one broadcast channel.
package market
