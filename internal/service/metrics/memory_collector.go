package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"PatternMemory/internal/domain/models"
)

// MemoryCollector exposes store contents as gauges, read at scrape time.
type MemoryCollector struct {
	stats    func() models.MemoryStats
	records  *prometheus.Desc
	pending  *prometheus.Desc
	resolved *prometheus.Desc
	buckets  *prometheus.Desc
	byType   *prometheus.Desc
}

func NewMemoryCollector(stats func() models.MemoryStats) *MemoryCollector {
	return &MemoryCollector{
		stats:    stats,
		records:  prometheus.NewDesc("patmem_memory_records", "Records held in memory", nil, nil),
		pending:  prometheus.NewDesc("patmem_memory_pending", "Records awaiting an outcome", nil, nil),
		resolved: prometheus.NewDesc("patmem_memory_resolved", "Records with a terminal outcome", nil, nil),
		buckets:  prometheus.NewDesc("patmem_memory_buckets", "Non-empty price buckets", nil, nil),
		byType:   prometheus.NewDesc("patmem_memory_records_by_type", "Records per pattern type", []string{"pattern"}, nil),
	}
}

func (c *MemoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.pending
	ch <- c.resolved
	ch <- c.buckets
	ch <- c.byType
}

func (c *MemoryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(s.Records))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.Pending))
	ch <- prometheus.MustNewConstMetric(c.resolved, prometheus.GaugeValue, float64(s.Resolved))
	ch <- prometheus.MustNewConstMetric(c.buckets, prometheus.GaugeValue, float64(s.Buckets))
	for typ, n := range s.ByType {
		ch <- prometheus.MustNewConstMetric(c.byType, prometheus.GaugeValue, float64(n), typ)
	}
}
