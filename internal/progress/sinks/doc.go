// Package sinks implements concrete progress consumers: Prometheus metrics,
// a terminal progress bar, an in-memory snapshot for the status API, and
// structured logging. Each sink satisfies the progress.Sink interface and is
// safe for repeated Consume/Close cycles.
package sinks
