// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultQueueSize is the run queue size of a pool built without QueueSize.
const DefaultQueueSize = 1024

// poolOptions configures ThreadPool creation.
type poolOptions struct {
	workers      int
	queueSize    int
	lockOSThread bool
	logger       *slog.Logger
}

// PoolBuilder creates thread pools with fluent configuration.
//
// Example:
//
//	pool := lfc.NewPool(runtime.NumCPU()).
//	    QueueSize(4096).
//	    Logger(slog.Default()).
//	    Build()
//	pool.Start()
//	defer pool.Stop(lfc.Infinite)
type PoolBuilder struct {
	opts poolOptions
}

// NewPool creates a pool builder for workers goroutines.
//
// Panics if workers < 1.
func NewPool(workers int) *PoolBuilder {
	if workers < 1 {
		fatalf("NewPool", "worker count must be >= 1, got %d", workers)
	}
	return &PoolBuilder{opts: poolOptions{workers: workers, queueSize: DefaultQueueSize}}
}

// QueueSize sets the run queue capacity. EnqueueRun fails with
// ErrWouldBlock once that many items are waiting.
func (b *PoolBuilder) QueueSize(n int) *PoolBuilder {
	b.opts.queueSize = n
	return b
}

// LockOSThread pins every worker to its own OS thread for its lifetime.
func (b *PoolBuilder) LockOSThread() *PoolBuilder {
	b.opts.lockOSThread = true
	return b
}

// Logger sets the logger for lifecycle events. Defaults to discarding.
func (b *PoolBuilder) Logger(l *slog.Logger) *PoolBuilder {
	b.opts.logger = l
	return b
}

// Build creates the pool in StateStopped.
func (b *PoolBuilder) Build() *ThreadPool {
	return newThreadPool(b.opts)
}

// treeOptions configures CommandTree creation.
type treeOptions struct {
	workers        int
	lockOSThread   bool
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// TreeBuilder creates command trees with fluent configuration.
//
// Example:
//
//	tree := lfc.NewTree(4).
//	    Logger(logger).
//	    MeterProvider(mp).
//	    Build()
//	defer tree.Close(lfc.Infinite)
type TreeBuilder struct {
	opts treeOptions
}

// NewTree creates a tree builder whose pool runs workers goroutines.
//
// Panics if workers < 1.
func NewTree(workers int) *TreeBuilder {
	if workers < 1 {
		fatalf("NewTree", "worker count must be >= 1, got %d", workers)
	}
	return &TreeBuilder{opts: treeOptions{workers: workers}}
}

// LockOSThread pins the tree's workers to OS threads.
func (b *TreeBuilder) LockOSThread() *TreeBuilder {
	b.opts.lockOSThread = true
	return b
}

// Logger sets the logger for the tree and its pool. Defaults to discarding.
func (b *TreeBuilder) Logger(l *slog.Logger) *TreeBuilder {
	b.opts.logger = l
	return b
}

// MeterProvider sets the OpenTelemetry meter provider for execution
// metrics. Defaults to the global provider.
func (b *TreeBuilder) MeterProvider(mp metric.MeterProvider) *TreeBuilder {
	b.opts.meterProvider = mp
	return b
}

// TracerProvider sets the OpenTelemetry tracer provider for execution
// spans. Defaults to the global provider.
func (b *TreeBuilder) TracerProvider(tp trace.TracerProvider) *TreeBuilder {
	b.opts.tracerProvider = tp
	return b
}

// Build creates an empty tree. Call ConstructTree before executing it.
func (b *TreeBuilder) Build() *CommandTree {
	return newCommandTree(b.opts)
}
