// Package memory recycles scratch buffers on hot write paths so that
// framing a record does not allocate once the pool is warm.
package memory
