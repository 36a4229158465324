package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buildlink"

// counterSpec binds one exported counter to a Snapshot field.
type counterSpec struct {
	name  string
	help  string
	value func(Snapshot) int64
}

var counterSpecs = []counterSpec{
	{"requests_started_total", "Requests accepted for execution", func(s Snapshot) int64 { return s.RequestsStarted }},
	{"requests_succeeded_total", "Requests that returned a value", func(s Snapshot) int64 { return s.RequestsSucceeded }},
	{"requests_failed_total", "Requests whose build failed", func(s Snapshot) int64 { return s.RequestsFailed }},
	{"requests_cancelled_total", "Requests stopped by cancellation", func(s Snapshot) int64 { return s.RequestsCancelled }},
	{"requests_rejected_total", "Requests that never reached a backend", func(s Snapshot) int64 { return s.RequestsRejected }},
	{"daemon_connect_success_total", "Successful daemon connections", func(s Snapshot) int64 { return s.DaemonConnectSuccess }},
	{"daemon_connect_failure_total", "Failed daemon connections", func(s Snapshot) int64 { return s.DaemonConnectFailure }},
	{"tool_launch_success_total", "Successful build tool launches", func(s Snapshot) int64 { return s.ToolLaunchSuccess }},
	{"tool_launch_failure_total", "Failed build tool launches", func(s Snapshot) int64 { return s.ToolLaunchFailure }},
	{"tool_crash_total", "Build tool crashes", func(s Snapshot) int64 { return s.ToolCrash }},
	{"ipc_decode_errors_total", "IPC frames that could not be decoded", func(s Snapshot) int64 { return s.IPCDecodeErrors }},
	{"events_dispatched_total", "Progress events delivered to a consumer", func(s Snapshot) int64 { return s.EventsDispatched }},
	{"events_ignored_total", "Progress events of an unknown kind", func(s Snapshot) int64 { return s.EventsIgnored }},
	{"event_dispatch_errors_total", "Progress event dispatches that failed", func(s Snapshot) int64 { return s.EventDispatchErrors }},
	{"archive_write_success_total", "Successful event archive writes", func(s Snapshot) int64 { return s.ArchiveWriteSuccess }},
	{"archive_write_failure_total", "Failed event archive writes", func(s Snapshot) int64 { return s.ArchiveWriteFailure }},
}

// NewRegistry returns a Prometheus registry exporting c at scrape time,
// plus the Go and process collectors.
func NewRegistry(c *Collector) *prom.Registry {
	reg := prom.NewRegistry()
	labels := prom.Labels{
		"mode":            c.Snapshot().Mode,
		"archive_backend": c.Snapshot().ArchiveBackend,
	}
	for _, spec := range counterSpecs {
		value := spec.value
		reg.MustRegister(prom.NewCounterFunc(prom.CounterOpts{
			Namespace:   namespace,
			Name:        spec.name,
			Help:        spec.help,
			ConstLabels: labels,
		}, func() float64 {
			return float64(value(c.Snapshot()))
		}))
	}
	reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an HTTP handler serving reg in the Prometheus text format.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
