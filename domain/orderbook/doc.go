// Package orderbook is the pure domain core: orders, per-instrument books
// with price-time priority, and the exact-quantity matching rule.
//
// Nothing here locks, persists or talks to a ledger. The service package
// owns concurrency and side effects.
package orderbook
