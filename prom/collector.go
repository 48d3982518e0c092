// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package prom exports lfc thread pool and command tree statistics as
// Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(prom.NewTreeCollector("render", tree))
package prom

import (
	"code.hybscloud.com/lfc"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lfc"

var (
	poolWorkers = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "workers"),
		"Number of worker goroutines.",
		[]string{"pool"}, nil,
	)
	poolQueueCap = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "queue_capacity"),
		"Run queue capacity.",
		[]string{"pool"}, nil,
	)
	poolQueued = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "queued"),
		"Items waiting in the run queue.",
		[]string{"pool"}, nil,
	)
	poolActive = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "active"),
		"Routines in flight.",
		[]string{"pool"}, nil,
	)
	poolExecuted = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "executed_total"),
		"Routines completed.",
		[]string{"pool"}, nil,
	)
	poolState = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "state"),
		"1 for the current lifecycle state of the pool.",
		[]string{"pool", "state"}, nil,
	)

	treeNodes = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tree", "nodes"),
		"Nodes in the constructed tree.",
		[]string{"tree"}, nil,
	)
	treeExecuting = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tree", "executing"),
		"1 while an execution is in flight.",
		[]string{"tree"}, nil,
	)
	treeExecutions = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tree", "executions_total"),
		"Completed executions.",
		[]string{"tree"}, nil,
	)
	treeFailures = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tree", "failures_total"),
		"Completed executions with a non-zero result.",
		[]string{"tree"}, nil,
	)
	treeTimeouts = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "tree", "timeouts_total"),
		"Execution waits that timed out.",
		[]string{"tree"}, nil,
	)
)

var states = [...]lfc.PoolState{lfc.StateStopped, lfc.StateRunning, lfc.StatePaused}

// PoolCollector collects the Stats of one ThreadPool on every scrape.
type PoolCollector struct {
	name string
	pool *lfc.ThreadPool
}

// NewPoolCollector returns a collector labelling pool's metrics with name.
func NewPoolCollector(name string, pool *lfc.ThreadPool) *PoolCollector {
	return &PoolCollector{name: name, pool: pool}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	describePool(ch)
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	collectPool(ch, c.name, c.pool.Stats())
}

// TreeCollector collects the Stats of one CommandTree and its pool.
type TreeCollector struct {
	name string
	tree *lfc.CommandTree
}

// NewTreeCollector returns a collector labelling tree's metrics with name.
// The tree's pool is reported under the same name.
func NewTreeCollector(name string, tree *lfc.CommandTree) *TreeCollector {
	return &TreeCollector{name: name, tree: tree}
}

// Describe implements prometheus.Collector.
func (c *TreeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- treeNodes
	ch <- treeExecuting
	ch <- treeExecutions
	ch <- treeFailures
	ch <- treeTimeouts
	describePool(ch)
}

// Collect implements prometheus.Collector.
func (c *TreeCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.tree.Stats()
	executing := 0.0
	if s.Executing {
		executing = 1
	}
	ch <- prometheus.MustNewConstMetric(treeNodes, prometheus.GaugeValue, float64(s.Nodes), c.name)
	ch <- prometheus.MustNewConstMetric(treeExecuting, prometheus.GaugeValue, executing, c.name)
	ch <- prometheus.MustNewConstMetric(treeExecutions, prometheus.CounterValue, float64(s.Executions), c.name)
	ch <- prometheus.MustNewConstMetric(treeFailures, prometheus.CounterValue, float64(s.Failures), c.name)
	ch <- prometheus.MustNewConstMetric(treeTimeouts, prometheus.CounterValue, float64(s.Timeouts), c.name)
	collectPool(ch, c.name, s.Pool)
}

func describePool(ch chan<- *prometheus.Desc) {
	ch <- poolWorkers
	ch <- poolQueueCap
	ch <- poolQueued
	ch <- poolActive
	ch <- poolExecuted
	ch <- poolState
}

func collectPool(ch chan<- prometheus.Metric, name string, s lfc.PoolStats) {
	ch <- prometheus.MustNewConstMetric(poolWorkers, prometheus.GaugeValue, float64(s.Workers), name)
	ch <- prometheus.MustNewConstMetric(poolQueueCap, prometheus.GaugeValue, float64(s.QueueCap), name)
	ch <- prometheus.MustNewConstMetric(poolQueued, prometheus.GaugeValue, float64(s.Queued), name)
	ch <- prometheus.MustNewConstMetric(poolActive, prometheus.GaugeValue, float64(max(s.Active, 0)), name)
	ch <- prometheus.MustNewConstMetric(poolExecuted, prometheus.CounterValue, float64(s.Executed), name)
	for _, st := range states {
		v := 0.0
		if s.State == st {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(poolState, prometheus.GaugeValue, v, name, st.String())
	}
}
