// Package scanning provides the probe engine of azula.
//
// The engine turns a resolved address set and an ordered port sequence into
// a stream of TCP connect probes or UDP probe/response exchanges, keeps a
// bounded number of them in flight, and collects the endpoints found open.
//
// # Overview
//
// A scan is built from three read-only inputs:
//   - the address set produced by the address package
//   - the port strategy produced by the ports package
//   - a Config value carrying the batch window, timeout and retry count
//
// Targets are enumerated port-major by a SocketIterator, so every address is
// tried on the first port before any address is tried on the second one.
//
// # Concurrency
//
// The in-flight window is a workers.Pool sized to the batch size with no
// queue. A feeder goroutine submits one probe per free worker, which keeps
// exactly one new probe starting per completion. Completions are applied to
// the Result by the goroutine calling Run, so the result has a single writer.
//
// Retries are handled by the pool. A TCP probe is retried on any failure. A
// UDP probe is retried on timeout only, and a target that never answers is
// reported neither open nor failed.
//
// # Errors
//
// Running out of file descriptors aborts the scan with a RESOURCE_EXHAUSTED
// error. Caller cancellation aborts it with a CANCELED error. In both cases
// the targets confirmed open so far are returned with the error.
//
// # Usage
//
//	scanner := scanning.New(addrs, strategy, scanning.DefaultConfig(),
//		scanning.WithLogger(logger),
//		scanning.WithOpenHandler(func(t scanning.Target) { fmt.Println(t) }))
//	result, err := scanner.Run(ctx)
package scanning
