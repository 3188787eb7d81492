// Package toolrt implements an in-process RPC runtime that exposes a catalog of
// named tool operations to external automation clients over HTTP and Server-Sent
// Events, while serializing host-affine work onto a single cooperative executor.
//
// The runtime bridges a fully asynchronous network front end to a host
// application whose control surface may only be touched from one designated
// execution context. Calls marked as affine are queued onto a priority dispatch
// queue and drained in bounded batches by the executor; everything else runs
// concurrently. Around every call the registry composes a per-tool circuit
// breaker, a response cache for repeatable operations, and aggregate health
// telemetry.
package toolrt
