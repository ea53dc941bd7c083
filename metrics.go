package vmpool

import "github.com/prometheus/client_golang/prometheus"

// metrics mirrors talyz-systemd_exporter's Collector pattern: a bundle of
// gauges/counters created once and registered only if the caller supplied
// a Registerer, so a caller that doesn't want Prometheus never pays for it.
type metrics struct {
	residentFrames prometheus.Gauge
	freePages      prometheus.Gauge
	closeListDepth prometheus.Gauge
	swapOccupied   prometheus.Gauge
	evictions      prometheus.Counter
	ioTimeouts     prometheus.Counter
	ioFailures     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		residentFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmpool", Name: "resident_frames", Help: "Frames currently backing a resident Ctrl.",
		}),
		freePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmpool", Name: "free_pages", Help: "Frames currently sitting idle across all C2 shards.",
		}),
		closeListDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmpool", Name: "close_list_depth", Help: "Ctrls currently eligible for eviction.",
		}),
		swapOccupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmpool", Name: "swap_pages_occupied", Help: "On-disk swap pages currently allocated.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmpool", Name: "evictions_total", Help: "Successful swap-outs performed to free a frame.",
		}),
		ioTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmpool", Name: "io_timeouts_total", Help: "Swap reads/writes that hit the 120s timeout.",
		}),
		ioFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmpool", Name: "io_failures_total", Help: "Swap reads/writes that failed to submit or complete.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.residentFrames, m.freePages, m.closeListDepth, m.swapOccupied, m.evictions, m.ioTimeouts, m.ioFailures)
	}
	return m
}
