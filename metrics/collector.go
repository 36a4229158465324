// Package metrics provides process-level metrics collection for mediated
// requests and the daemon that serves them.
//
// The Collector accumulates counters for the lifetime of a process (a CLI
// invocation or a daemon). It is a leaf package with no internal
// dependencies; the Prometheus exporter reads it at scrape time.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Request lifecycle
	RequestsStarted   int64
	RequestsSucceeded int64
	RequestsFailed    int64
	RequestsCancelled int64
	RequestsRejected  int64

	// Daemon connection
	DaemonConnectSuccess int64
	DaemonConnectFailure int64

	// Build tool
	ToolLaunchSuccess int64
	ToolLaunchFailure int64
	ToolCrash         int64
	IPCDecodeErrors   int64

	// Progress events
	EventsDispatched    int64
	EventsIgnored       int64
	EventDispatchErrors int64

	// Event archive
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64

	// Dimensions (informational, set at construction)
	Mode           string
	ArchiveBackend string
}

// Collector accumulates metrics for one process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
// mode is "embedded", "daemon" or "client"; archiveBackend is "none", "fs" or "s3".
func NewCollector(mode, archiveBackend string) *Collector {
	return &Collector{s: Snapshot{Mode: mode, ArchiveBackend: archiveBackend}}
}

// inc applies fn under the lock. Nil-receiver safe.
func (c *Collector) inc(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// --- Request lifecycle ---

// IncRequestStarted records a request start.
func (c *Collector) IncRequestStarted() { c.inc(func(s *Snapshot) { s.RequestsStarted++ }) }

// IncRequestSucceeded records a request that returned a value.
func (c *Collector) IncRequestSucceeded() { c.inc(func(s *Snapshot) { s.RequestsSucceeded++ }) }

// IncRequestFailed records a request whose build failed.
func (c *Collector) IncRequestFailed() { c.inc(func(s *Snapshot) { s.RequestsFailed++ }) }

// IncRequestCancelled records a request stopped by cancellation.
func (c *Collector) IncRequestCancelled() { c.inc(func(s *Snapshot) { s.RequestsCancelled++ }) }

// IncRequestRejected records a request that never reached a backend
// (invalid request, configuration or connection error).
func (c *Collector) IncRequestRejected() { c.inc(func(s *Snapshot) { s.RequestsRejected++ }) }

// --- Daemon connection ---

// IncDaemonConnectSuccess records a successful daemon connection.
func (c *Collector) IncDaemonConnectSuccess() { c.inc(func(s *Snapshot) { s.DaemonConnectSuccess++ }) }

// IncDaemonConnectFailure records a failed daemon connection.
func (c *Collector) IncDaemonConnectFailure() { c.inc(func(s *Snapshot) { s.DaemonConnectFailure++ }) }

// --- Build tool ---

// IncToolLaunchSuccess records a successful build tool launch.
func (c *Collector) IncToolLaunchSuccess() { c.inc(func(s *Snapshot) { s.ToolLaunchSuccess++ }) }

// IncToolLaunchFailure records a failed build tool launch.
func (c *Collector) IncToolLaunchFailure() { c.inc(func(s *Snapshot) { s.ToolLaunchFailure++ }) }

// IncToolCrash records a build tool crash detected during ingestion.
func (c *Collector) IncToolCrash() { c.inc(func(s *Snapshot) { s.ToolCrash++ }) }

// IncIPCDecodeErrors records an IPC frame decode error.
func (c *Collector) IncIPCDecodeErrors() { c.inc(func(s *Snapshot) { s.IPCDecodeErrors++ }) }

// --- Progress events ---

// IncEventDispatched records an event delivered to a consumer.
func (c *Collector) IncEventDispatched() { c.inc(func(s *Snapshot) { s.EventsDispatched++ }) }

// IncEventIgnored records an event of an unknown kind.
func (c *Collector) IncEventIgnored() { c.inc(func(s *Snapshot) { s.EventsIgnored++ }) }

// IncEventDispatchError records a dispatch that failed.
func (c *Collector) IncEventDispatchError() { c.inc(func(s *Snapshot) { s.EventDispatchErrors++ }) }

// --- Event archive ---
// Archive counters are per write call, not per record.

// IncArchiveWriteSuccess records a successful archive write.
func (c *Collector) IncArchiveWriteSuccess() { c.inc(func(s *Snapshot) { s.ArchiveWriteSuccess++ }) }

// IncArchiveWriteFailure records a failed archive write.
func (c *Collector) IncArchiveWriteFailure() { c.inc(func(s *Snapshot) { s.ArchiveWriteFailure++ }) }

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
