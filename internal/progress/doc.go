// Package progress carries story lifecycle events from coordinators to
// observers. Coordinators call Emitter.Emit on their loop goroutine; the Hub
// buffers events without blocking, batches them on its own goroutine and fans
// each batch out to sinks such as metrics, logs, persistence, notifications
// and timeline archives.
package progress
