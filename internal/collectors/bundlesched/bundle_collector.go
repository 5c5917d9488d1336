package bundlesched

import (
	"strconv"

	plog "github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"lame_sched/internal/logger"
	"lame_sched/internal/sched"
)

// BundleCollector implements prometheus.Collector for per-worker bundle
// scheduling metrics. Counters are owned by their worker and read here as
// snapshots; only the run queue length is read under the worker lock.
type BundleCollector struct {
	log plog.Logger

	lamesDesc        *prometheus.Desc
	xsaveLamesDesc   *prometheus.Desc
	skippedLamesDesc *prometheus.Desc
	cyclesDesc       *prometheus.Desc
	spillsDesc       *prometheus.Desc
	occupancyDesc    *prometheus.Desc
	runqLenDesc      *prometheus.Desc
	slotLamesDesc    *prometheus.Desc
}

// NewBundleCollector creates the bundle scheduling metrics collector.
func NewBundleCollector() *BundleCollector {
	return &BundleCollector{
		log: logger.NewLoggerWithContext("bundle_collector"),

		lamesDesc: prometheus.NewDesc(
			"lame_switches_total",
			"Total LAME switches performed, per worker.",
			[]string{"worker"}, nil),
		xsaveLamesDesc: prometheus.NewDesc(
			"lame_xsave_switches_total",
			"LAME switches that saved extended processor state, per worker.",
			[]string{"worker"}, nil),
		skippedLamesDesc: prometheus.NewDesc(
			"lame_skipped_ticks_total",
			"Handler ticks dropped by the dynamic gate, per worker.",
			[]string{"worker"}, nil),
		cyclesDesc: prometheus.NewDesc(
			"lame_bundle_cycles_total",
			"Cycles accounted across bundle members, per worker.",
			[]string{"worker"}, nil),
		spillsDesc: prometheus.NewDesc(
			"lame_dismantle_spills_total",
			"Bundle members returned to the run queue by dismantle, per worker.",
			[]string{"worker"}, nil),
		occupancyDesc: prometheus.NewDesc(
			"lame_bundle_occupancy",
			"Occupied bundle slots, per worker.",
			[]string{"worker"}, nil),
		runqLenDesc: prometheus.NewDesc(
			"lame_runq_length",
			"Run queue length including overflow, per worker.",
			[]string{"worker"}, nil),
		slotLamesDesc: prometheus.NewDesc(
			"lame_slot_switches_total",
			"LAME selections per bundle slot.",
			[]string{"worker", "slot"}, nil),
	}
}

// Describe implements the prometheus.Collector interface
func (c *BundleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.lamesDesc
	ch <- c.xsaveLamesDesc
	ch <- c.skippedLamesDesc
	ch <- c.cyclesDesc
	ch <- c.spillsDesc
	ch <- c.occupancyDesc
	ch <- c.runqLenDesc
	ch <- c.slotLamesDesc
}

// Collect implements the prometheus.Collector interface
func (c *BundleCollector) Collect(ch chan<- prometheus.Metric) {
	for _, w := range sched.AllWorkers() {
		s := w.StatsSnapshot()
		worker := strconv.Itoa(s.ID)

		ch <- prometheus.MustNewConstMetric(c.lamesDesc,
			prometheus.CounterValue, float64(s.TotalLames), worker)
		ch <- prometheus.MustNewConstMetric(c.xsaveLamesDesc,
			prometheus.CounterValue, float64(s.TotalXsaveLames), worker)
		ch <- prometheus.MustNewConstMetric(c.skippedLamesDesc,
			prometheus.CounterValue, float64(s.SkippedLames), worker)
		ch <- prometheus.MustNewConstMetric(c.cyclesDesc,
			prometheus.CounterValue, float64(s.TotalCycles), worker)
		ch <- prometheus.MustNewConstMetric(c.spillsDesc,
			prometheus.CounterValue, float64(s.Spills), worker)
		ch <- prometheus.MustNewConstMetric(c.occupancyDesc,
			prometheus.GaugeValue, float64(s.Used), worker)
		ch <- prometheus.MustNewConstMetric(c.runqLenDesc,
			prometheus.GaugeValue, float64(s.RunqLen), worker)

		for i := uint32(0); i < s.Size; i++ {
			ch <- prometheus.MustNewConstMetric(c.slotLamesDesc,
				prometheus.CounterValue, float64(s.SlotLames[i]),
				worker, strconv.Itoa(int(i)))
		}
	}

	c.log.Debug().Msg("Collected bundle scheduling metrics")
}
