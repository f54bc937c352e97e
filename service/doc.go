// Package service coordinates the order book core: the priority books,
// the order store, the settlement outbox, the journal and the ledger
// gateways.
//
// Every PENDING→X transition of an order (match, cancel, expire) happens
// under the lock of the order's instrument partition, so at most one of
// them can succeed. Ledger calls never run under that lock.
package service
