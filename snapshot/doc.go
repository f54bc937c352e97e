// Package snapshot writes point-in-time exports of the open order book as
// Parquet files and reads them back.
//
// A snapshot is an audit and inspection artifact. The order store stays
// canonical; recovery never depends on a snapshot being present.
package snapshot
