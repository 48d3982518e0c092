// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lfc

import (
	"log/slog"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxDepends is the maximum number of dependencies of one TreeNode.
	MaxDepends = 8
	// MaxNodes is the maximum number of nodes in one CommandTree.
	MaxNodes = 256
)

// TreeNode describes one command of a CommandTree: a routine, its argument,
// and the indices of the nodes that must finish before it may run.
type TreeNode struct {
	Routine         Routine
	Arg             any
	NumDependencies uint8
	Dependencies    [MaxDepends]uint32
}

// NewTreeNode returns a node running routine(arg) after every node in deps.
func NewTreeNode(routine Routine, arg any, deps ...uint32) TreeNode {
	var n TreeNode
	n.InitializeWithDependency(routine, arg, deps...)
	return n
}

// Initialize sets the routine and clears the dependencies.
func (n *TreeNode) Initialize(routine Routine, arg any) {
	*n = TreeNode{Routine: routine, Arg: arg}
}

// InitializeWithDependency sets the routine and dependency list.
// Panics with a *ConfigError if deps has more than MaxDepends entries.
func (n *TreeNode) InitializeWithDependency(routine Routine, arg any, deps ...uint32) {
	if len(deps) > MaxDepends {
		fatalf("TreeNode.InitializeWithDependency", "%d dependencies exceed the maximum of %d", len(deps), MaxDepends)
	}
	n.Initialize(routine, arg)
	n.NumDependencies = uint8(copy(n.Dependencies[:], deps))
}

// DependsOn returns the node's dependency indices.
func (n *TreeNode) DependsOn() []uint32 {
	return n.Dependencies[:min(int(n.NumDependencies), MaxDepends)]
}

// treeNode is the runtime state of one node.
type treeNode struct {
	_        pad
	depsDone atomix.Uint64 // Predecessors finished this execution
	skip     atomix.Uint64 // 1 once a predecessor failed or was skipped
	_        pad

	tree     *CommandTree
	routine  Routine
	arg      any
	needed   uint64
	children []uint32
}

type execution struct {
	id    string
	start time.Time
	span  trace.Span
}

// CommandTree runs a fixed DAG of commands on its own ThreadPool. A node is
// enqueued as soon as every predecessor's routine has returned.
//
// ExecuteCommands may be called any number of times on a constructed tree;
// each call runs every node exactly once. One goroutine controls the tree:
// ConstructTree, ExecuteCommands, Wait and Close must not race each other.
//
// A routine returning non-zero fails its node. The first failure code is the
// result of the execution. Nodes downstream of a failed node are skipped,
// independent branches still run.
type CommandTree struct {
	_         pad
	finished  atomix.Uint64 // Nodes finished this execution
	failure   atomix.Uint64 // First non-zero code this execution
	_         pad
	ok        atomix.Int64
	failed    atomix.Int64
	skipped   atomix.Int64
	_         pad
	executing atomix.Uint64 // 1 between ExecuteCommands and completion
	_         pad

	pool     *ThreadPool
	nodes    []treeNode
	children []uint32 // Backing store of every nodes[i].children
	roots    []uint32
	done     *semaphore
	exec     *execution
	last     uintptr

	executions atomix.Uint64
	failures   atomix.Uint64
	timeouts   atomix.Uint64

	logger *slog.Logger
	tel    *treeTelemetry
}

// NewCommandTree creates an empty tree running on workers goroutines.
func NewCommandTree(workers int) *CommandTree {
	return NewTree(workers).Build()
}

func newCommandTree(o treeOptions) *CommandTree {
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool := NewPool(o.workers).
		QueueSize(MaxNodes).
		Logger(logger.With(slog.String("component", "thread_pool")))
	if o.lockOSThread {
		pool = pool.LockOSThread()
	}
	return &CommandTree{
		pool:   pool.Build(),
		done:   newSemaphore(0, 1),
		logger: logger,
		tel:    newTreeTelemetry(o.tracerProvider, o.meterProvider),
	}
}

// ConstructTree replaces the tree's graph with nodes. Nodes may depend on
// nodes with a higher index. The routine and argument of every node are
// copied; later changes to nodes have no effect.
//
// Panics with a *ConfigError on more than MaxNodes nodes, more than
// MaxDepends dependencies, a nil routine, a dependency index out of range,
// a node depending on itself, or while an execution is in flight.
//
// Cycles are not detected; executing a cyclic tree times out.
func (t *CommandTree) ConstructTree(nodes []TreeNode) {
	if t.executing.LoadAcquire() != 0 {
		fatalf("CommandTree.ConstructTree", "tree is executing")
	}
	if len(nodes) > MaxNodes {
		fatalf("CommandTree.ConstructTree", "%d nodes exceed the maximum of %d", len(nodes), MaxNodes)
	}

	n := uint32(len(nodes))
	childCount := make([]int, n)
	edges := 0
	for i := range nodes {
		node := &nodes[i]
		if node.Routine == nil {
			fatalf("CommandTree.ConstructTree", "node %d has no routine", i)
		}
		if node.NumDependencies > MaxDepends {
			fatalf("CommandTree.ConstructTree", "node %d has %d dependencies, maximum is %d",
				i, node.NumDependencies, MaxDepends)
		}
		for _, dep := range node.DependsOn() {
			if dep >= n {
				fatalf("CommandTree.ConstructTree", "node %d depends on node %d, tree has %d nodes", i, dep, n)
			}
			if dep == uint32(i) {
				fatalf("CommandTree.ConstructTree", "node %d depends on itself", i)
			}
			childCount[dep]++
			edges++
		}
	}

	t.nodes = make([]treeNode, n)
	t.children = make([]uint32, edges)
	t.roots = t.roots[:0]
	off := 0
	for i := range t.nodes {
		t.nodes[i].children = t.children[off:off:off+childCount[i]]
		off += childCount[i]
	}
	for i := range nodes {
		tn := &t.nodes[i]
		tn.tree = t
		tn.routine = nodes[i].Routine
		tn.arg = nodes[i].Arg
		tn.needed = uint64(nodes[i].NumDependencies)
		if tn.needed == 0 {
			t.roots = append(t.roots, uint32(i))
		}
		for _, dep := range nodes[i].DependsOn() {
			parent := &t.nodes[dep]
			parent.children = append(parent.children, uint32(i))
		}
	}
	t.last = 0

	t.logger.Debug("command tree constructed",
		slog.Int("nodes", len(t.nodes)),
		slog.Int("roots", len(t.roots)),
		slog.Int("edges", edges),
	)
}

// prepareStart resets the per-execution counters.
func (t *CommandTree) prepareStart() {
	for i := range t.nodes {
		t.nodes[i].depsDone.StoreRelaxed(0)
		t.nodes[i].skip.StoreRelaxed(0)
	}
	t.finished.StoreRelaxed(0)
	t.failure.StoreRelaxed(0)
	t.ok.Store(0)
	t.failed.Store(0)
	t.skipped.Store(0)
	t.done.Drain()
}

// ExecuteCommands runs every node once and waits up to timeout for the tree
// to finish. It returns the first non-zero routine code, or 0 if every node
// succeeded.
//
// On timeout it returns (0, ErrTimeout) and the execution keeps going; Wait
// resumes waiting for it. Returns ErrInvalidState if an execution is already
// in flight. An empty tree finishes at once.
func (t *CommandTree) ExecuteCommands(timeout time.Duration) (uintptr, error) {
	if !t.executing.CompareAndSwapAcqRel(0, 1) {
		return 0, ErrInvalidState
	}
	if len(t.nodes) == 0 {
		t.executing.StoreRelease(0)
		t.last = 0
		return 0, nil
	}

	t.prepareStart()
	t.exec = &execution{id: uuid.NewString()[:12], start: time.Now()}
	t.exec.span = t.tel.startExecution(t.exec.id, len(t.nodes), len(t.roots))
	t.logger.Debug("command tree execution started",
		slog.String("execution_id", t.exec.id),
		slog.Int("nodes", len(t.nodes)),
		slog.Int("roots", len(t.roots)),
	)

	t.pool.Start()
	for _, r := range t.roots {
		t.dispatch(&t.nodes[r])
	}
	return t.Wait(timeout)
}

// Wait waits up to timeout for the current execution to finish and returns
// its result, as ExecuteCommands does. With no execution in flight it
// returns the result of the last one.
func (t *CommandTree) Wait(timeout time.Duration) (uintptr, error) {
	if t.executing.LoadAcquire() == 0 {
		return t.last, nil
	}
	if !t.done.Wait(timeout) {
		t.timeouts.Add(1)
		t.logger.Warn("command tree execution timed out",
			slog.String("execution_id", t.exec.id),
			slog.Duration("timeout", timeout),
			slog.Uint64("finished", t.finished.Load()),
			slog.Int("nodes", len(t.nodes)),
		)
		return 0, ErrTimeout
	}

	// Every routine has returned; let the workers settle before parking them.
	t.pool.Pause()
	if err := t.pool.Join(Infinite); err != nil {
		return 0, err
	}

	code := uintptr(t.failure.Load())
	t.finish(code, false)
	return code, nil
}

func (t *CommandTree) finish(code uintptr, aborted bool) {
	ex := t.exec
	elapsed := time.Since(ex.start)
	t.executions.Add(1)
	if code != 0 {
		t.failures.Add(1)
	}
	t.tel.recordNodes(t.ok.Load(), t.failed.Load(), t.skipped.Load())
	t.tel.endExecution(ex.span, elapsed, code, aborted)

	attrs := []any{
		slog.String("execution_id", ex.id),
		slog.Duration("elapsed", elapsed),
		slog.Int64("ok", t.ok.Load()),
		slog.Int64("failed", t.failed.Load()),
		slog.Int64("skipped", t.skipped.Load()),
	}
	switch {
	case aborted:
		t.logger.Warn("command tree execution aborted", attrs...)
	case code != 0:
		t.logger.Error("command tree execution failed", append(attrs, slog.Uint64("code", uint64(code)))...)
	default:
		t.logger.Debug("command tree execution finished", attrs...)
	}

	t.exec = nil
	t.last = code
	t.executing.StoreRelease(0)
}

func (t *CommandTree) dispatch(n *treeNode) {
	// The run queue holds MaxNodes items and each node is queued once per
	// execution, so a full queue only means consumers are catching up.
	b := iox.Backoff{}
	for t.pool.EnqueueRun(runTreeNode, n) != nil {
		b.Wait()
	}
}

func runTreeNode(arg any) uintptr {
	n := arg.(*treeNode)
	return n.tree.complete(n)
}

// complete runs n unless an upstream node failed, then releases its
// children and counts it finished.
func (t *CommandTree) complete(n *treeNode) uintptr {
	var code uintptr
	skipped := n.skip.LoadAcquire() != 0
	if skipped {
		t.skipped.Add(1)
	} else if code = n.routine(n.arg); code != 0 {
		t.failure.CompareAndSwapAcqRel(0, uint64(code))
		t.failed.Add(1)
	} else {
		t.ok.Add(1)
	}

	poison := skipped || code != 0
	for _, c := range n.children {
		child := &t.nodes[c]
		if poison {
			child.skip.StoreRelease(1)
		}
		// The last predecessor to finish enqueues the child.
		if child.depsDone.AddAcqRel(1) == child.needed {
			t.dispatch(child)
		}
	}

	if t.finished.AddAcqRel(1) == uint64(len(t.nodes)) {
		t.done.Release(1)
	}
	return code
}

// Close stops the tree's pool, waiting up to timeout for running routines.
// An execution still in flight is abandoned and its queued nodes are
// discarded; Wait then reports 0. The tree can be executed again after a
// successful Close.
func (t *CommandTree) Close(timeout time.Duration) error {
	if err := t.pool.Stop(timeout); err != nil {
		return err
	}
	dropped := t.pool.Drain()
	if t.executing.LoadAcquire() != 0 {
		t.finish(0, true)
		t.logger.Debug("command tree discarded queued nodes", slog.Int("dropped", dropped))
	}
	return nil
}

// Len returns the number of nodes.
func (t *CommandTree) Len() int { return len(t.nodes) }

// Pool returns the tree's thread pool, for inspection.
func (t *CommandTree) Pool() *ThreadPool { return t.pool }

// TreeStats is an advisory snapshot of a CommandTree.
type TreeStats struct {
	Nodes      int
	Executing  bool
	Finished   uint64 // Nodes finished in the current or last execution
	Executions uint64 // Completed executions
	Failures   uint64 // Completed executions with a non-zero result
	Timeouts   uint64 // Waits that timed out
	Pool       PoolStats
}

// Stats returns a snapshot of the tree counters.
func (t *CommandTree) Stats() TreeStats {
	return TreeStats{
		Nodes:      len(t.nodes),
		Executing:  t.executing.LoadAcquire() != 0,
		Finished:   t.finished.Load(),
		Executions: t.executions.Load(),
		Failures:   t.failures.Load(),
		Timeouts:   t.timeouts.Load(),
		Pool:       t.pool.Stats(),
	}
}
