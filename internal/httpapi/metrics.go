// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package httpapi

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nessorch/orchestrator/internal/queue"
	"github.com/nessorch/orchestrator/internal/registry"
)

// scannerCollector is a pull-based prometheus.Collector: rather than
// threading counter increments through every call site, it reads live
// registry/queue state at scrape time, the way a gauge naturally should for
// values that are already tracked elsewhere (active scan counts, breaker
// state, queue depth).
type scannerCollector struct {
	reg   *registry.Registry
	q     *queue.Queue
	active *prometheus.Desc
	cap    *prometheus.Desc
	breaker *prometheus.Desc
	queueDepth *prometheus.Desc
	dlqDepth   *prometheus.Desc
}

// NewScannerCollector builds a Collector exposing per-instance and per-pool
// gauges derived from the registry and queue.
func NewScannerCollector(reg *registry.Registry, q *queue.Queue) prometheus.Collector {
	return &scannerCollector{
		reg: reg,
		q:   q,
		active: prometheus.NewDesc(
			"nessorch_instance_active_scans", "Active scans on a scanner instance.",
			[]string{"pool", "instance"}, nil),
		cap: prometheus.NewDesc(
			"nessorch_instance_max_concurrent", "Configured concurrency cap for a scanner instance.",
			[]string{"pool", "instance"}, nil),
		breaker: prometheus.NewDesc(
			"nessorch_instance_breaker_open", "1 if the instance's circuit breaker is open, else 0.",
			[]string{"pool", "instance"}, nil),
		queueDepth: prometheus.NewDesc(
			"nessorch_queue_depth", "Number of tasks waiting in a pool's queue.",
			[]string{"pool"}, nil),
		dlqDepth: prometheus.NewDesc(
			"nessorch_dead_letter_depth", "Number of tasks in a pool's dead-letter queue.",
			[]string{"pool"}, nil),
	}
}

func (c *scannerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.cap
	ch <- c.breaker
	ch <- c.queueDepth
	ch <- c.dlqDepth
}

func (c *scannerCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	for _, pool := range c.reg.Pools() {
		snaps, err := c.reg.SnapshotPool(pool)
		if err != nil {
			continue
		}
		for _, s := range snaps {
			ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveScans), pool, s.ID)
			ch <- prometheus.MustNewConstMetric(c.cap, prometheus.GaugeValue, float64(s.MaxConcurrent), pool, s.ID)
			open := 0.0
			if s.BreakerState == "open" {
				open = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.breaker, prometheus.GaugeValue, open, pool, s.ID)
		}

		if depth, err := c.q.Len(ctx, pool); err == nil {
			ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth), pool)
		}
		if dlq, err := c.q.DeadLetterLen(ctx, pool); err == nil {
			ch <- prometheus.MustNewConstMetric(c.dlqDepth, prometheus.GaugeValue, float64(dlq), pool)
		}
	}
}
